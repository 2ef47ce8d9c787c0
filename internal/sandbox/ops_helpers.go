package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	v8 "rogchap.com/v8go"
)

// throwJSError schedules a JS exception on the isolate and returns the
// exception value. V8 propagates it as the pending exception once this
// value is returned from a FunctionCallback.
func throwJSError(iso *v8.Isolate, msg string) *v8.Value {
	val, _ := v8.NewValue(iso, msg)
	return iso.ThrowException(val)
}

// argString extracts a string argument at idx, or an error if missing or
// not a string.
func argString(info *v8.FunctionCallbackInfo, idx int) (string, error) {
	args := info.Args()
	if idx >= len(args) {
		return "", fmt.Errorf("argument %d is required", idx)
	}
	if !args[idx].IsString() {
		return "", fmt.Errorf("argument %d must be a string", idx)
	}
	return args[idx].String(), nil
}

// toJSValue converts a Go value to a V8 value via a JSON round trip through
// JSON.parse, matching the approach used for the http response objects: no
// v8go struct marshalling API exists for maps, so JSON is the bridge.
func toJSValue(ctx *v8.Context, val any) (*v8.Value, error) {
	iso := ctx.Isolate()
	if val == nil {
		return v8.Null(iso), nil
	}
	jsonBytes, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	script := fmt.Sprintf("JSON.parse(%s)", escapeJSString(string(jsonBytes)))
	return ctx.RunScript(script, "<sandbox-internal>")
}

// jsValueToStringMap extracts a JS object as a Go map[string]string via
// JSON.stringify. Returns nil if val is undefined or null.
func jsValueToStringMap(ctx *v8.Context, val *v8.Value) (map[string]string, error) {
	if val.IsUndefined() || val.IsNull() {
		return nil, nil
	}
	if !val.IsObject() {
		return nil, fmt.Errorf("expected object, got %s", val.String())
	}
	jsonStr, err := v8.JSONStringify(ctx, val)
	if err != nil {
		return nil, fmt.Errorf("stringify object: %w", err)
	}
	var result map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("parse object JSON: %w", err)
	}
	return result, nil
}

// jsLineSeparator and jsParagraphSeparator are valid raw in a JSON string
// but illegal raw inside a JS string literal, so escapeJSString must
// rewrite them explicitly rather than passing them through.
const (
	jsLineSeparator      rune = 0x2028
	jsParagraphSeparator rune = 0x2029
)

// escapeJSString wraps s in single quotes with escaping safe to embed in a
// JavaScript expression.
func escapeJSString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString("\\'")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case jsLineSeparator:
			b.WriteString("\\u2028")
		case jsParagraphSeparator:
			b.WriteString("\\u2029")
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// wrapJSError converts a v8go error into a descriptive Go error, including
// location and stack trace when V8 supplies them.
func wrapJSError(err error, origin string) error {
	if jsErr, ok := err.(*v8.JSError); ok {
		msg := jsErr.Message
		if jsErr.Location != "" {
			msg = jsErr.Location + ": " + msg
		}
		if jsErr.StackTrace != "" {
			msg += "\n" + jsErr.StackTrace
		}
		return fmt.Errorf("js error in %s: %s", origin, msg)
	}
	return fmt.Errorf("js error in %s: %w", origin, err)
}
