// Package sanitize neutralizes prototype-pollution vectors in JSON props
// before they cross into the V8 isolate.
package sanitize

import "fmt"

// MaxDepth is the maximum nesting depth accepted by Props. A value at
// depth MaxDepth+1 is rejected.
const MaxDepth = 32

// dangerousKeys are object keys that could be used to pollute Object.prototype
// (or Function.prototype via constructor) once the value reaches JS.
var dangerousKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Props sanitizes an arbitrary JSON value (as produced by encoding/json's
// Unmarshal into any) and returns a rebuilt copy free of prototype-pollution
// keys, or an error if one is found or nesting exceeds MaxDepth.
//
// Primitives pass through unchanged. Arrays and objects are rebuilt from
// sanitized children so the returned value shares no mutable structure with
// the input.
func Props(value any) (any, error) {
	return sanitizeRecursive(value, 0)
}

func sanitizeRecursive(value any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("props nesting too deep (max %d levels) - possible DoS attempt", MaxDepth)
	}

	switch v := value.(type) {
	case map[string]any:
		for key := range v {
			if _, bad := dangerousKeys[key]; bad {
				return nil, fmt.Errorf("prototype pollution attempt: %q key is forbidden in props", key)
			}
		}
		sanitized := make(map[string]any, len(v))
		for key, child := range v {
			cleaned, err := sanitizeRecursive(child, depth+1)
			if err != nil {
				return nil, err
			}
			sanitized[key] = cleaned
		}
		return sanitized, nil

	case []any:
		sanitized := make([]any, len(v))
		for i, child := range v {
			cleaned, err := sanitizeRecursive(child, depth+1)
			if err != nil {
				return nil, err
			}
			sanitized[i] = cleaned
		}
		return sanitized, nil

	default:
		// Primitives (string, float64, bool, nil) are safe as-is.
		return value, nil
	}
}
