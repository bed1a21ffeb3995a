package model

import "reflect"

// Document is a decoded JSON object.
type Document map[string]interface{}

// Clone returns a deep copy.
func (doc Document) Clone() Document {
	if doc == nil {
		return nil
	}
	return cloneValue(map[string]any(doc)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Merge applies patch onto doc. Nested objects are merged recursively, any
// other value replaces the existing one. It reports whether doc changed.
func (doc Document) Merge(patch Document) bool {
	return mergeMaps(doc, patch)
}

func mergeMaps(dst, patch map[string]any) bool {
	changed := false
	for k, pv := range patch {
		dv, exists := dst[k]
		if pm, ok := asMap(pv); ok {
			if dm, ok := asMap(dv); ok && exists {
				if mergeMaps(dm, pm) {
					changed = true
				}
				dst[k] = dm
				continue
			}
		}
		if !exists || !Equal(dv, pv) {
			changed = true
		}
		dst[k] = cloneValue(pv)
	}
	return changed
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	}
	return nil, false
}

// Equal compares two decoded values structurally. Numeric values compare
// by float64 value so that int results from scripts match decoded JSON.
func Equal(a, b any) bool {
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, exists := bm[k]
			if !exists || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if as, ok := a.([]any); ok {
		bs, ok := b.([]any)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Lookup resolves a dotted path such as "user.name".
func (doc Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(doc)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[path[start:i]]
		if !ok {
			return nil, false
		}
		start = i + 1
	}
	return cur, true
}
