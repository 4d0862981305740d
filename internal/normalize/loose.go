package normalize

import (
	"fmt"
	"strconv"
)

// Accessors for loosely-typed packet maps. Meshtastic transports deliver
// JSON-decoded values (float64, string, bool) but in-process callbacks may
// hand over native Go integers, so numeric lookups coerce both.

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func getBool(m map[string]any, key string) *bool {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(bool); ok {
		return &v
	}
	return nil
}

func getFloat(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	if v, ok := asFloat(m[key]); ok {
		return &v
	}
	return nil
}

func getInt(m map[string]any, key string) *int64 {
	if m == nil {
		return nil
	}
	if v, ok := asFloat(m[key]); ok {
		i := int64(v)
		return &i
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// idString prefers the human-readable node id and falls back to the numeric
// address, matching how the device firmware populates fromId/toId.
func idString(m map[string]any, idKey, numKey string) string {
	if s := getString(m, idKey); s != "" {
		return s
	}
	if n := getInt(m, numKey); n != nil {
		return strconv.FormatInt(*n, 10)
	}
	return ""
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
