// Package attrs reads values out of slog-style key/value argument lists
// ([key1, value1, key2, value2, ...]).
package attrs

import "fmt"

// ExtractString returns the value of key, or "" when absent. Values that
// implement fmt.Stringer (typed ids) are rendered through String.
func ExtractString(list []any, key string) string {
	for i := 0; i+1 < len(list); i += 2 {
		if k, ok := list[i].(string); ok && k == key {
			return render(list[i+1])
		}
	}
	return ""
}

// FirstString returns the first non-empty value among keys, in key order.
func FirstString(list []any, keys ...string) string {
	for _, key := range keys {
		if v := ExtractString(list, key); v != "" {
			return v
		}
	}
	return ""
}

func render(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	return ""
}
