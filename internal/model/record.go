// Package model defines the record shape shared by every table kind; the
// query controls used by Select live in internal/query.
package model

// Record is a schemaless document. Implementations never assume anything
// about its keys beyond "id" (and, for sharded inserts, "shard"). A row
// read back from disk holds what encoding/json produced when decoding it
// (string, float64, bool, nil, []any, map[string]any); a row still in
// memory holds the Go values it was written with, such as the int64 id
// that WithID stores.
type Record map[string]any

// IDKey is the reserved field holding a row's integer id.
const IDKey = "id"

// ShardKey is the reserved field naming the shard an inserted row targets.
const ShardKey = "shard"

// ID extracts the integer id from a record, if present and well-formed.
func ID(r Record) (int64, bool) {
	v, ok := r[IDKey]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// WithID returns a shallow copy of r with its id field set.
func WithID(r Record, id int64) Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[IDKey] = id
	return out
}

// Clone performs a structural deep copy of a record's plain JSON-shaped
// values (maps, slices, primitives). See internal/util.DeepClone for the
// general-purpose version this specializes.
func Clone(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Record:
		return Clone(t)
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
