package normalize

import (
	"encoding/hex"
	"fmt"
)

// maxDepth bounds the sanitizer's recursion so it terminates on cyclic or
// pathological vendor payloads. Anything deeper is stringified outright.
const maxDepth = 10

// Sanitize rewrites an arbitrary nested value so it serializes cleanly as
// JSON: binary blobs become hex strings, maps and slices are walked
// recursively, and unknown types are stringified.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if depth > maxDepth {
		return fmt.Sprint(v)
	}
	switch x := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case []byte:
		return hex.EncodeToString(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = sanitize(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = sanitize(val, depth+1)
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}
