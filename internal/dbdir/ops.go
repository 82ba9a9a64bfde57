package dbdir

import (
	"context"
	"fmt"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/shardedtable"
	"github.com/maruel/blockdb/internal/xerrors"
)

// Select runs q against name, additionally resolving a join clause
// against a second table if q.Join is set. Neither Select, Insert,
// Update, nor Delete take the per-table mutex; they rely on the table's
// own internal write serialization.
func (d *Directory) Select(ctx context.Context, name string, q query.Select) (rows []model.Record, err error) {
	err = d.monitored("select", name, func() error {
		rows, err = d.selectImpl(ctx, name, q)
		return err
	})
	return rows, err
}

func (d *Directory) selectImpl(ctx context.Context, name string, q query.Select) ([]model.Record, error) {
	entry, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	join := q.Join
	q.Join = nil
	rows, err := entry.handle.Select(ctx, q)
	if err != nil || join == nil {
		return rows, err
	}
	return d.applyJoin(ctx, rows, *join)
}

// applyJoin collects the ids named by join.KeyField out of rows, selects
// the matching rows from join.Table (an IDSet predicate, so no full scan),
// and attaches them under join.TargetField.
func (d *Directory) applyJoin(ctx context.Context, rows []model.Record, join query.Join) ([]model.Record, error) {
	ids := map[int64]struct{}{}
	for _, r := range rows {
		for _, id := range extractIDs(r[join.KeyField]) {
			ids[id] = struct{}{}
		}
	}
	idList := make([]int64, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}

	target, err := d.lookup(join.Table)
	if err != nil {
		return nil, err
	}
	matches, err := target.handle.Select(ctx, query.Select{Where: predicate.IDSet(idList)})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Record, len(matches))
	for _, m := range matches {
		if id, ok := model.ID(m); ok {
			byID[id] = m
		}
	}

	out := make([]model.Record, len(rows))
	for i, r := range rows {
		nr := model.Clone(r)
		keyIDs := extractIDs(r[join.KeyField])
		if join.Many {
			var many []model.Record
			for _, id := range keyIDs {
				if m, ok := byID[id]; ok {
					many = append(many, m)
				}
			}
			nr[join.TargetField] = many
		} else if len(keyIDs) > 0 {
			if m, ok := byID[keyIDs[0]]; ok {
				nr[join.TargetField] = m
			}
		}
		out[i] = nr
	}
	return out, nil
}

// extractIDs reads a join key field that is either a single id (numeric)
// or a slice of ids.
func extractIDs(v any) []int64 {
	switch t := v.(type) {
	case []any:
		out := make([]int64, 0, len(t))
		for _, item := range t {
			if id, ok := toID(item); ok {
				out = append(out, id)
			}
		}
		return out
	default:
		if id, ok := toID(v); ok {
			return []int64{id}
		}
		return nil
	}
}

func toID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// Insert adds rec to name. opts.Mode applies to Basic/Memory tables;
// opts.Generator applies to Sharded tables.
func (d *Directory) Insert(name string, rec model.Record, opts InsertOptions) (id int64, err error) {
	err = d.monitored("insert", name, func() error {
		id, err = d.insertImpl(name, rec, opts)
		return err
	})
	return id, err
}

func (d *Directory) insertImpl(name string, rec model.Record, opts InsertOptions) (int64, error) {
	entry, err := d.lookup(name)
	if err != nil {
		return 0, err
	}
	switch h := entry.handle.(type) {
	case basicHandle:
		return h.t.Insert(rec, opts.Mode)
	case memHandle:
		return h.t.Insert(rec, opts.Mode)
	case shardedHandle:
		return h.t.Insert(rec, opts.Generator)
	default:
		return 0, xerrors.New(xerrors.KindConfig, fmt.Sprintf("unknown table handle for %q", name))
	}
}

// SelectSharded runs a shard-scoped query (explicit shard list/predicate,
// persistent pinning) against a Sharded table. It fails with a config
// error if name is not a sharded table.
func (d *Directory) SelectSharded(ctx context.Context, name string, q shardedtable.Select) ([]model.Record, error) {
	entry, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	h, ok := entry.handle.(shardedHandle)
	if !ok {
		return nil, xerrors.New(xerrors.KindConfig, fmt.Sprintf("table %q is not sharded", name))
	}
	return h.t.Select(ctx, q)
}

// Update applies m to every matching row in name.
func (d *Directory) Update(name string, m query.Mutation) (n int, err error) {
	err = d.monitored("update", name, func() error {
		entry, lerr := d.lookup(name)
		if lerr != nil {
			return lerr
		}
		n, lerr = entry.handle.Update(m)
		return lerr
	})
	return n, err
}

// Delete removes every matching row from name.
func (d *Directory) Delete(name string, where predicate.Predicate) (n int, err error) {
	err = d.monitored("delete", name, func() error {
		entry, lerr := d.lookup(name)
		if lerr != nil {
			return lerr
		}
		n, lerr = entry.handle.Delete(where)
		return lerr
	})
	return n, err
}

// GetMeta returns row-count/index metadata for name.
func (d *Directory) GetMeta(name string) (basictable.Meta, error) {
	entry, err := d.lookup(name)
	if err != nil {
		return basictable.Meta{}, err
	}
	return entry.handle.GetMeta()
}
