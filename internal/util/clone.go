// Package util collects the small cross-cutting helpers shared by every
// table kind: structural cloning, path existence checks, DEFLATE
// compression, and literal escaping for diagnostic strings.
package util

// DeepClone performs a structural copy of a plain JSON-shaped value: maps,
// slices, and primitives. Anything else (structs, pointers, and named
// types such as model.Record) is returned as-is, without copying.
func DeepClone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = DeepClone(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = DeepClone(vv)
		}
		return s
	default:
		return v
	}
}
