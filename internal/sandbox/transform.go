package sandbox

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// transformToCommonJS compiles ES module syntax (export default, named
// exports, import statements) down to CommonJS, the shape bootstrap.js's
// require() bridge understands. v8go has no bound V8 Module API, so this
// is how an entry authored as `export default p => ...` becomes something
// a plain `new Function`-wrapped body in bootstrap.js's require() can
// execute against a `module`/`exports` pair supplied by the host loader.
func transformToCommonJS(source, filename string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Format:     api.FormatCommonJS,
		Target:     api.ESNext,
		Sourcefile: filename,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("transform %s: %s", filename, result.Errors[0].Text)
	}
	return string(result.Code), nil
}
