package basictable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/xerrors"
)

// Insert adds rec, allocating an id from the table's local autoincrement
// counter unless rec already carries one (the path Clone uses to preserve
// ids verbatim). mode controls what happens when that id is
// already taken.
func (t *Table) Insert(rec model.Record, mode InsertMode) (int64, error) {
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

	if t.engine.Has(id) {
		switch mode {
		case InsertIgnore:
			return id, nil
		case InsertReplace:
			if old, ok, err := t.engine.Get(context.Background(), id); err == nil && ok {
				t.removeFromIndexesLocked(id, old)
			}
		default:
			return 0, xerrors.Data("insert", fmt.Errorf("row id %d already exists", id))
		}
	}

	out := model.WithID(rec, id)
	if err := t.checkUniqueLocked(id, out); err != nil {
		return 0, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return 0, xerrors.Data("encode row", err)
	}

	step := t.allocDeltaStep()
	if err := t.engine.Set(id, out, len(encoded), step); err != nil {
		return 0, err
	}
	if err := t.engine.CommitDelta(step); err != nil {
		return 0, err
	}
	t.addToIndexesLocked(id, out)
	if id >= t.autoIncrement {
		t.autoIncrement = id + 1
	}
	return id, nil
}

// Update applies m.Apply to every row matching m.Where and persists the
// results within a single delta step.
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
	candidates := t.candidateIdsLocked(where)

	step := t.allocDeltaStep()
	count := 0
	for _, id := range candidates {
		old, ok, err := t.engine.Get(context.Background(), id)
		if err != nil {
			return count, err
		}
		if !ok || !where.Match(old) {
			continue
		}
		updated := m.Apply(old)
		updated = model.WithID(updated, id)
		if err := t.checkUniqueLocked(id, updated); err != nil {
			return count, err
		}
		encoded, err := json.Marshal(updated)
		if err != nil {
			return count, xerrors.Data("encode row", err)
		}
		if err := t.engine.Set(id, updated, len(encoded), step); err != nil {
			return count, err
		}
		t.removeFromIndexesLocked(id, old)
		t.addToIndexesLocked(id, updated)
		count++
	}
	if err := t.engine.CommitDelta(step); err != nil {
		return count, err
	}
	return count, nil
}

// Delete removes every row matching where within a single delta step.
func (t *Table) Delete(where predicate.Predicate) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return 0, err
	}
	if where == nil {
		where = predicate.All()
	}
	candidates := t.candidateIdsLocked(where)

	step := t.allocDeltaStep()
	count := 0
	for _, id := range candidates {
		rec, ok, err := t.engine.Get(context.Background(), id)
		if err != nil {
			return count, err
		}
		if !ok || !where.Match(rec) {
			continue
		}
		if err := t.engine.Del(id, step); err != nil {
			return count, err
		}
		t.removeFromIndexesLocked(id, rec)
		count++
	}
	if err := t.engine.CommitDelta(step); err != nil {
		return count, err
	}
	return count, nil
}

// Clone copies every row matching filter (nil means every row) into a
// fresh table at targetDir, preserving ids, then closes it. Returns the
// number of rows copied.
func (t *Table) Clone(targetDir string, filter predicate.Predicate) (int, error) {
	t.mu.Lock()
	if err := t.checkOpenLocked(); err != nil {
		t.mu.Unlock()
		return 0, err
	}
	ids := t.candidateIdsLocked(filter)
	t.mu.Unlock()
	if filter == nil {
		filter = predicate.All()
	}

	target, err := Open(targetDir, Options{Recreate: true, CacheSize: t.opts.CacheSize, Compressed: t.opts.Compressed, BlockSize: t.opts.BlockSize}, t.logger)
	if err != nil {
		return 0, err
	}
	defer target.Close()

	copied := 0
	for _, id := range ids {
		rec, ok, err := t.engine.Get(context.Background(), id)
		if err != nil {
			return copied, err
		}
		if !ok || !filter.Match(rec) {
			continue
		}
		if _, err := target.Insert(rec, InsertReplace); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

// checkUniqueLocked rejects a row whose value for a unique-indexed field is
// already held by a different id. Caller holds t.mu.
func (t *Table) checkUniqueLocked(id int64, rec model.Record) error {
	for field, ix := range t.indexes {
		if !ix.spec.Unique {
			continue
		}
		v, ok := rec[field]
		if !ok {
			continue
		}
		for _, existing := range ix.equal(v) {
			if existing != id {
				return xerrors.Data("insert", fmt.Errorf("duplicate value for unique index %q", field))
			}
		}
	}
	return nil
}

func (t *Table) addToIndexesLocked(id int64, rec model.Record) {
	for field, ix := range t.indexes {
		if v, ok := rec[field]; ok {
			ix.add(id, v)
		}
	}
}

func (t *Table) removeFromIndexesLocked(id int64, rec model.Record) {
	for field, ix := range t.indexes {
		if v, ok := rec[field]; ok {
			ix.remove(id, v)
		}
	}
}
