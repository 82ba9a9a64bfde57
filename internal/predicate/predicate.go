// Package predicate is the typed replacement for the legacy string-embedded
// query language. Instead of evaluating
// `where`/`sort`/`map` expressions written as source text in a sandboxed
// interpreter, callers build a small predicate tree out of Go values and
// functions: Where ::= IndexRange | IDSet | And | Or | Not | Func. Each node
// both answers Match(record) directly (so it is always correct against a
// full scan) and advertises itself to query planners via a type switch, so
// internal/basictable can use an IndexRange or IDSet node to drive a
// secondary index instead of a linear scan.
package predicate

import "github.com/maruel/blockdb/internal/model"

// Predicate decides whether a record belongs in a result set.
type Predicate interface {
	Match(r model.Record) bool
}

type allPredicate struct{}

func (allPredicate) Match(model.Record) bool { return true }

// All matches every record; equivalent to the legacy @@all().
func All() Predicate { return allPredicate{} }

// idSetPredicate matches records whose id is a member of a fixed set;
// equivalent to the legacy @@id(...) builtin.
type idSetPredicate struct {
	ids map[int64]struct{}
}

func (p *idSetPredicate) Match(r model.Record) bool {
	id, ok := model.ID(r)
	if !ok {
		return false
	}
	_, found := p.ids[id]
	return found
}

// IDs returns the set of ids this predicate matches, for planners that can
// satisfy it directly from the block index without scanning rows.
func (p *idSetPredicate) IDs() []int64 {
	out := make([]int64, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	return out
}

// IDSet matches records whose id is one of ids.
func IDSet(ids []int64) Predicate {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &idSetPredicate{ids: set}
}

// AsIDSet reports whether p is an IDSet node, returning its ids.
func AsIDSet(p Predicate) ([]int64, bool) {
	idp, ok := p.(*idSetPredicate)
	if !ok {
		return nil, false
	}
	return idp.IDs(), true
}

// rangePredicate matches records whose Field value falls within [Lo, Hi]
// (nil bound means unbounded on that side); equivalent to the legacy
// @@index(field, lo, hi) builtin. Comparison uses compareValues below, the
// same ordering a range-index implementation maintains its keys in.
type rangePredicate struct {
	Field  string
	Lo, Hi any
}

func (p *rangePredicate) Match(r model.Record) bool {
	v, ok := r[p.Field]
	if !ok {
		return false
	}
	if p.Lo != nil && compareValues(v, p.Lo) < 0 {
		return false
	}
	if p.Hi != nil && compareValues(v, p.Hi) > 0 {
		return false
	}
	return true
}

// IndexRange matches records whose field value lies in [lo, hi]. A nil
// bound is unbounded on that side.
func IndexRange(field string, lo, hi any) Predicate {
	return &rangePredicate{Field: field, Lo: lo, Hi: hi}
}

// AsIndexRange reports whether p is an IndexRange node.
func AsIndexRange(p Predicate) (field string, lo, hi any, ok bool) {
	rp, ok := p.(*rangePredicate)
	if !ok {
		return "", nil, nil, false
	}
	return rp.Field, rp.Lo, rp.Hi, true
}

// Func wraps an arbitrary caller-supplied filter function; the legacy
// Lambda(body) case, compiled ahead of time instead of interpreted.
type Func func(r model.Record) bool

func (f Func) Match(r model.Record) bool { return f(r) }

type andPredicate struct{ terms []Predicate }

func (p *andPredicate) Match(r model.Record) bool {
	for _, t := range p.terms {
		if !t.Match(r) {
			return false
		}
	}
	return true
}

// And matches records satisfying every term.
func And(terms ...Predicate) Predicate { return &andPredicate{terms: terms} }

type orPredicate struct{ terms []Predicate }

func (p *orPredicate) Match(r model.Record) bool {
	for _, t := range p.terms {
		if t.Match(r) {
			return true
		}
	}
	return false
}

// Or matches records satisfying any term.
func Or(terms ...Predicate) Predicate { return &orPredicate{terms: terms} }

type notPredicate struct{ term Predicate }

func (p *notPredicate) Match(r model.Record) bool { return !p.term.Match(r) }

// Not inverts a predicate.
func Not(term Predicate) Predicate { return &notPredicate{term: term} }

// compareValues orders two JSON-decoded scalars. Numbers compare
// numerically, strings lexicographically; mismatched or unorderable types
// compare equal (0) so range predicates degrade to "included" rather than
// panicking on schemaless data.
func compareValues(a, b any) int {
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
