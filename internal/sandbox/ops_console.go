package sandbox

import (
	"fmt"
	"strings"

	v8 "rogchap.com/v8go"
)

// injectConsoleAPI registers console.log/warn/error, each appending a
// serialized line to capture instead of reaching the host's terminal.
func injectConsoleAPI(iso *v8.Isolate, global *v8.ObjectTemplate, capture *consoleCapture) error {
	consoleNs := v8.NewObjectTemplate(iso)

	register := func(name string, sink func(string)) error {
		fn := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
			sink(formatConsoleArgs(info))
			return v8.Undefined(iso)
		})
		return consoleNs.Set(name, fn, v8.ReadOnly)
	}

	if err := register("log", capture.log); err != nil {
		return fmt.Errorf("set console.log: %w", err)
	}
	if err := register("warn", capture.warn); err != nil {
		return fmt.Errorf("set console.warn: %w", err)
	}
	if err := register("error", capture.error); err != nil {
		return fmt.Errorf("set console.error: %w", err)
	}

	if err := global.Set("console", consoleNs, v8.ReadOnly); err != nil {
		return fmt.Errorf("set console namespace: %w", err)
	}
	return nil
}

// formatConsoleArgs joins all arguments with a space, matching the
// space-separated multi-arg convention of console.log in every JS host.
func formatConsoleArgs(info *v8.FunctionCallbackInfo) string {
	args := info.Args()
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}
