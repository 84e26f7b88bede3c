package db

import (
	"strings"
	"time"
)

// Clone deep-copies a native field map so stored documents never alias
// caller memory.
func Clone(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	case time.Time:
		return x
	default:
		return v
	}
}

// Merge applies an update to stored fields and returns the result. Dotted
// keys address nested maps, creating them as needed; a nil update value
// stores null.
func Merge(stored, update map[string]any) map[string]any {
	out := Clone(stored)
	if out == nil {
		out = make(map[string]any, len(update))
	}
	for k, v := range update {
		segs := strings.Split(k, ".")
		cur := out
		for _, seg := range segs[:len(segs)-1] {
			next, ok := cur[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[seg] = next
			}
			cur = next
		}
		cur[segs[len(segs)-1]] = cloneValue(v)
	}
	return out
}
