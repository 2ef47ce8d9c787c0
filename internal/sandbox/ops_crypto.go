package sandbox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	v8 "rogchap.com/v8go"
)

// injectCryptoAPI registers crypto.randomUUID and crypto.subtle.digest
// directly, plus __host_random_bytes, the raw byte-length-to-bytes op that
// bootstrap.js's crypto.getRandomValues wrapper fills a caller-supplied
// typed array from — the subset runtime.rs documents as available to a
// render function, nothing more.
func injectCryptoAPI(iso *v8.Isolate, global *v8.ObjectTemplate) error {
	cryptoNs := v8.NewObjectTemplate(iso)

	randomUUID := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		id, err := uuid.NewRandom()
		if err != nil {
			return throwJSError(iso, "crypto.randomUUID: "+err.Error())
		}
		val, _ := v8.NewValue(iso, id.String())
		return val
	})
	if err := cryptoNs.Set("randomUUID", randomUUID, v8.ReadOnly); err != nil {
		return fmt.Errorf("set crypto.randomUUID: %w", err)
	}

	// __host_random_bytes(length) -> number[] is the raw primitive;
	// bootstrap.js's crypto.getRandomValues(typedArray) wrapper is what
	// gives callers the standard Web Crypto "fill this buffer" signature.
	randomBytes := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < 1 || !args[0].IsInt32() {
			return throwJSError(iso, "crypto.getRandomValues: expected a byte length")
		}
		n := int(args[0].Int32())
		if n < 0 || n > 65536 {
			return throwJSError(iso, "crypto.getRandomValues: length out of range")
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return throwJSError(iso, "crypto.getRandomValues: "+err.Error())
		}
		ints := make([]int, n)
		for i, b := range buf {
			ints[i] = int(b)
		}
		val, err := toJSValue(info.Context(), ints)
		if err != nil {
			return throwJSError(iso, "crypto.getRandomValues: "+err.Error())
		}
		return val
	})
	if err := global.Set("__host_random_bytes", randomBytes, v8.ReadOnly); err != nil {
		return fmt.Errorf("set __host_random_bytes: %w", err)
	}

	subtleNs := v8.NewObjectTemplate(iso)
	digest := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		algo, err := argString(info, 0)
		if err != nil {
			return throwJSError(iso, "crypto.subtle.digest: "+err.Error())
		}
		data, err := argString(info, 1)
		if err != nil {
			return throwJSError(iso, "crypto.subtle.digest: "+err.Error())
		}

		normalized := strings.ReplaceAll(strings.ToUpper(algo), "-", "")

		var sum []byte
		switch normalized {
		case "SHA256":
			h := sha256.Sum256([]byte(data))
			sum = h[:]
		case "SHA384":
			h := sha512.Sum384([]byte(data))
			sum = h[:]
		case "SHA512":
			h := sha512.Sum512([]byte(data))
			sum = h[:]
		default:
			return throwJSError(iso, fmt.Sprintf("crypto.subtle.digest: unsupported algorithm %q", algo))
		}

		val, _ := v8.NewValue(iso, hex.EncodeToString(sum))
		return val
	})
	if err := subtleNs.Set("digest", digest, v8.ReadOnly); err != nil {
		return fmt.Errorf("set crypto.subtle.digest: %w", err)
	}
	if err := cryptoNs.Set("subtle", subtleNs, v8.ReadOnly); err != nil {
		return fmt.Errorf("set crypto.subtle: %w", err)
	}

	if err := global.Set("crypto", cryptoNs, v8.ReadOnly); err != nil {
		return fmt.Errorf("set crypto namespace: %w", err)
	}
	return nil
}

// injectBase64API registers atob/btoa directly on the global template,
// matching their placement as web globals rather than a namespace.
func injectBase64API(iso *v8.Isolate, global *v8.ObjectTemplate) error {
	atob := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		encoded, err := argString(info, 0)
		if err != nil {
			return throwJSError(iso, "atob: "+err.Error())
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return throwJSError(iso, "atob: invalid base64 input")
		}
		val, _ := v8.NewValue(iso, string(decoded))
		return val
	})
	if err := global.Set("atob", atob, v8.ReadOnly); err != nil {
		return fmt.Errorf("set atob: %w", err)
	}

	btoa := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		raw, err := argString(info, 0)
		if err != nil {
			return throwJSError(iso, "btoa: "+err.Error())
		}
		val, _ := v8.NewValue(iso, base64.StdEncoding.EncodeToString([]byte(raw)))
		return val
	})
	if err := global.Set("btoa", btoa, v8.ReadOnly); err != nil {
		return fmt.Errorf("set btoa: %w", err)
	}
	return nil
}
