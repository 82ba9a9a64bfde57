package basictable

import (
	"sort"

	"github.com/maruel/blockdb/internal/model"
)

// IndexKind selects how a secondary index answers range queries.
type IndexKind int

const (
	// HashIndex supports only equality lookups.
	HashIndex IndexKind = iota
	// RangeIndex supports equality and [lo,hi] range lookups, backing
	// predicate.IndexRange.
	RangeIndex
)

// IndexSpec describes one secondary index to maintain.
type IndexSpec struct {
	Field string
	Kind  IndexKind
	// Unique rejects inserts/updates that would duplicate an existing
	// value for Field. Sharded tables reject unique specs at Create.
	Unique bool
}

// index is the in-memory secondary index for one field. Hash indexes only
// use byValue; range indexes additionally keep sorted for range scans.
type index struct {
	spec    IndexSpec
	byValue map[any][]int64
	sorted  []indexEntry // kept sorted by value for RangeIndex
}

type indexEntry struct {
	value any
	id    int64
}

func newIndex(spec IndexSpec) *index {
	return &index{spec: spec, byValue: map[any][]int64{}}
}

// indexable reports whether value can be an index key. Composite values
// (objects, arrays) are skipped rather than indexed: they are not
// comparable map keys.
func indexable(value any) bool {
	switch value.(type) {
	case string, float64, int, int64, bool, nil:
		return true
	default:
		return false
	}
}

func (ix *index) add(id int64, value any) {
	if !indexable(value) {
		return
	}
	ix.byValue[value] = append(ix.byValue[value], id)
	if ix.spec.Kind == RangeIndex {
		pos := sort.Search(len(ix.sorted), func(i int) bool {
			return compare(ix.sorted[i].value, value) >= 0
		})
		ix.sorted = append(ix.sorted, indexEntry{})
		copy(ix.sorted[pos+1:], ix.sorted[pos:])
		ix.sorted[pos] = indexEntry{value: value, id: id}
	}
}

func (ix *index) remove(id int64, value any) {
	if !indexable(value) {
		return
	}
	ids := ix.byValue[value]
	for i, existing := range ids {
		if existing == id {
			ix.byValue[value] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ix.byValue[value]) == 0 {
		delete(ix.byValue, value)
	}
	if ix.spec.Kind == RangeIndex {
		for i, e := range ix.sorted {
			if e.id == id && compare(e.value, value) == 0 {
				ix.sorted = append(ix.sorted[:i], ix.sorted[i+1:]...)
				break
			}
		}
	}
}

func (ix *index) equal(value any) []int64 {
	if !indexable(value) {
		return nil
	}
	return append([]int64(nil), ix.byValue[value]...)
}

func (ix *index) rangeLookup(lo, hi any) []int64 {
	var out []int64
	lowerOK := func(v any) bool { return lo == nil || compare(v, lo) >= 0 }
	upperOK := func(v any) bool { return hi == nil || compare(v, hi) <= 0 }
	for _, e := range ix.sorted {
		if lowerOK(e.value) && upperOK(e.value) {
			out = append(out, e.id)
		}
	}
	return out
}

func compare(a, b any) int {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// rebuildIndexes rescans every row and repopulates every defined index;
// called after load, since only index specs are persisted to disk, never
// their contents, and when Create defines a new index.
func rebuildIndexes(indexes map[string]*index, rows map[int64]model.Record) {
	for _, ix := range indexes {
		ix.byValue = map[any][]int64{}
		ix.sorted = nil
	}
	for id, rec := range rows {
		for field, ix := range indexes {
			if v, ok := rec[field]; ok {
				ix.add(id, v)
			}
		}
	}
}
