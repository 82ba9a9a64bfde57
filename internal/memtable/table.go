// Package memtable implements the in-memory table kind: the
// same external contract as internal/basictable, but with no block files
// backing it — commitDelta is a no-op, load restores nothing, and close
// simply discards the map.
package memtable

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/xerrors"
)

// Table is a table kind with no on-disk presence.
type Table struct {
	mu            sync.Mutex
	rows          map[int64]model.Record
	autoIncrement int64
	closed        bool
	indexes       map[string]basictable.IndexSpec
}

// Open creates an empty memory table. There is no directory to read: every
// Open starts fresh.
func Open() *Table {
	return &Table{rows: map[int64]model.Record{}, autoIncrement: 1, indexes: map[string]basictable.IndexSpec{}}
}

// Close discards all rows.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.rows = nil
	return nil
}

func (t *Table) checkOpenLocked() error {
	if t.closed {
		return xerrors.NotFound(xerrors.ErrTableNotOpen, "table is closed")
	}
	return nil
}

// Create records an index spec for GetMeta; memory tables never need the
// secondary-index acceleration basictable does since a full scan over an
// in-memory map is already O(1)-ish per row.
func (t *Table) Create(spec basictable.IndexSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	t.indexes[spec.Field] = spec
	return nil
}

// Drop removes an index spec.
func (t *Table) Drop(field string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.indexes, field)
	return nil
}

// GetMeta returns row count and defined index specs.
func (t *Table) GetMeta() basictable.Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	specs := make([]basictable.IndexSpec, 0, len(t.indexes))
	for _, s := range t.indexes {
		specs = append(specs, s)
	}
	return basictable.Meta{RowCount: len(t.rows), Indexes: specs}
}

// Insert adds rec, allocating an id unless one is already present.
func (t *Table) Insert(rec model.Record, mode basictable.InsertMode) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return 0, err
	}
	id, hasID := model.ID(rec)
	if !hasID {
		id = t.autoIncrement
		t.autoIncrement++
	}
	if _, exists := t.rows[id]; exists {
		switch mode {
		case basictable.InsertIgnore:
			return id, nil
		case basictable.InsertReplace:
		default:
			return 0, xerrors.Data("insert", fmt.Errorf("row id %d already exists", id))
		}
	}
	out := model.WithID(rec, id)
	t.rows[id] = model.Clone(out)
	if id >= t.autoIncrement {
		t.autoIncrement = id + 1
	}
	return id, nil
}

// Select filters, sorts, pages, and maps rows exactly as basictable.Select
// does, minus any index acceleration (there is nothing to accelerate: the
// whole table already lives in one map).
func (t *Table) Select(q query.Select) ([]model.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return nil, err
	}
	where := q.Where
	if where == nil {
		where = predicate.All()
	}
	var out []model.Record
	for _, rec := range t.rows {
		if where.Match(rec) {
			out = append(out, model.Clone(rec))
		}
	}
	if q.Sort != nil {
		sort.SliceStable(out, func(i, j int) bool { return q.Sort(out[i], out[j]) })
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			out = nil
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if q.Map != nil {
		for i, r := range out {
			out[i] = q.Map(r)
		}
	}
	return out, nil
}

// Update applies m.Apply to every row matching m.Where.
func (t *Table) Update(m query.Mutation) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return 0, err
	}
	where := m.Where
	if where == nil {
		where = predicate.All()
	}
	count := 0
	for id, rec := range t.rows {
		if !where.Match(rec) {
			continue
		}
		updated := m.Apply(rec)
		t.rows[id] = model.WithID(model.Clone(updated), id)
		count++
	}
	return count, nil
}

// Delete removes every row matching where.
func (t *Table) Delete(where predicate.Predicate) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return 0, err
	}
	if where == nil {
		where = predicate.All()
	}
	count := 0
	for id, rec := range t.rows {
		if where.Match(rec) {
			delete(t.rows, id)
			count++
		}
	}
	return count, nil
}
