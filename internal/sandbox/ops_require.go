package sandbox

import (
	"fmt"

	v8 "rogchap.com/v8go"

	"github.com/Munawwar/ssr-sandbox/internal/loader"
)

// injectRequireAPI registers the two primitives bootstrap.js's CommonJS
// bridge is built on: __host_resolve (path containment + extension checks)
// and __host_load (read + ES-module-to-CommonJS transform). Both are
// installed as read-only globals, so any JS in the isolate can call them
// directly, not only the require() closure bootstrap.js builds around
// them; the loader re-applies its checks on every call.
func injectRequireAPI(iso *v8.Isolate, global *v8.ObjectTemplate, ld *loader.Loader) error {
	resolveFn := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		specifier, err := argString(info, 0)
		if err != nil {
			return throwJSError(iso, "require: "+err.Error())
		}
		referrer, _ := argString(info, 1) // empty referrer is valid for bare/absolute specifiers

		resolved, err := ld.Resolve(specifier, loader.Specifier(referrer))
		if err != nil {
			return throwJSError(iso, err.Error())
		}
		val, _ := v8.NewValue(iso, string(resolved))
		return val
	})
	if err := global.Set("__host_resolve", resolveFn, v8.ReadOnly); err != nil {
		return fmt.Errorf("set __host_resolve: %w", err)
	}

	loadFn := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		specifier, err := argString(info, 0)
		if err != nil {
			return throwJSError(iso, "require: "+err.Error())
		}

		source, err := ld.Load(loader.Specifier(specifier))
		if err != nil {
			return throwJSError(iso, err.Error())
		}

		transformed, err := transformToCommonJS(source, specifier)
		if err != nil {
			return throwJSError(iso, err.Error())
		}

		val, _ := v8.NewValue(iso, transformed)
		return val
	})
	if err := global.Set("__host_load", loadFn, v8.ReadOnly); err != nil {
		return fmt.Errorf("set __host_load: %w", err)
	}
	return nil
}
