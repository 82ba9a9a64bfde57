// Package query defines the Select/Update/Delete request shape accepted by
// every table kind. It sits above internal/predicate and internal/model so
// neither of those packages needs to import the other.
package query

import (
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
)

// Select describes a read query: the where/sort/map/join surface,
// expressed as typed fields instead of embedded expression text.
type Select struct {
	// Where selects candidate rows. Nil means predicate.All().
	Where predicate.Predicate
	// Sort orders the result; nil leaves order unspecified (block iteration
	// order).
	Sort func(a, b model.Record) bool
	// Limit caps the number of rows returned; 0 means unlimited.
	Limit int
	// Offset skips this many matching rows before collecting results.
	Offset int
	// Map transforms each row after filtering/sorting/paging, if set.
	Map func(r model.Record) model.Record
	// Join, if set, runs a secondary select against another table keyed by
	// ids extracted from the primary result and merges the match into
	// TargetField on each row.
	Join *Join
}

// Join describes a joinById post-processing step.
type Join struct {
	// Table is the name of the table to join against.
	Table string
	// KeyField names the field on the primary row holding the id (or slice
	// of ids) to look up in Table.
	KeyField string
	// TargetField is the field the joined row(s) are attached under.
	TargetField string
	// Many, if true, attaches every match as a slice; otherwise the first
	// match only.
	Many bool
}

// Mutation describes an Update or Delete request: rows matching Where are
// mutated; for Update, Apply computes the replacement record (receiving
// the existing row, nil for insert-only flows this type isn't used for).
type Mutation struct {
	Where predicate.Predicate
	Apply func(r model.Record) model.Record
}
