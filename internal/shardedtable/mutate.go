package shardedtable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/xerrors"
)

// allShardNamesLocked returns every shard name (excluding the info shard)
// currently recorded in the shards meta table.
func (t *Table) allShardNamesLocked() ([]string, error) {
	rows, err := t.shards.Select(context.Background(), query.Select{})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range rows {
		if name, _ := r["name"].(string); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Update fans m out across every shard unconditionally. No shard-pruning
// index exists to consult, so skipping a shard would risk missing matches.
func (t *Table) Update(m query.Mutation) (int, error) {
	names, err := t.allShardNamesLocked()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, name := range names {
		shard, err := t.lockShard(name)
		if err != nil {
			return total, err
		}
		n, err := shard.Update(m)
		t.unlockShard(name)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Delete fans out across every shard, decrementing that shard's count (and
// the info shard's total) by however many rows it actually removed, so
// sum(shard counts) == info-shard count holds afterward.
func (t *Table) Delete(where predicate.Predicate) (int, error) {
	names, err := t.allShardNamesLocked()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, name := range names {
		shard, err := t.lockShard(name)
		if err != nil {
			return total, err
		}
		n, err := shard.Delete(where)
		t.unlockShard(name)
		if err != nil {
			return total, err
		}
		if n > 0 {
			if err := t.bumpCount(name, -n); err != nil {
				return total, err
			}
		}
		total += n
	}
	return total, nil
}

// Clone copies meta, the shards record table, and every shard's rows
// (subject to filter) into a fresh sharded table rooted at targetDir,
// visiting every shard unconditionally, same as Update/Delete.
func (t *Table) Clone(targetDir string, filter predicate.Predicate) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return xerrors.System("create sharded clone target", err)
	}
	if err := os.WriteFile(filepath.Join(targetDir, "type"), []byte("sharded"), 0o644); err != nil {
		return xerrors.System("write sharded clone type file", err)
	}
	if _, err := t.meta.Clone(filepath.Join(targetDir, "meta"), nil); err != nil {
		return err
	}
	if _, err := t.shards.Clone(filepath.Join(targetDir, "shards"), nil); err != nil {
		return err
	}

	names, err := t.allShardNamesLocked()
	if err != nil {
		return err
	}
	copied := map[string]int{}
	total := 0
	for _, name := range names {
		rec, err := t.shardRecord(name)
		if err != nil {
			return err
		}
		shard, err := t.lockShard(name)
		if err != nil {
			return err
		}
		n, err := shard.Clone(filepath.Join(targetDir, fmt.Sprintf("s%d", rec.Num)), filter)
		t.unlockShard(name)
		if err != nil {
			return err
		}
		copied[name] = n
		total += n
	}

	// The cloned shards table still carries the source counts; with a
	// filter in play, fewer rows may have made it across.
	cloned, err := basictable.Open(filepath.Join(targetDir, "shards"), basictable.DefaultOptions(), t.logger)
	if err != nil {
		return err
	}
	defer cloned.Close()
	for name, n := range copied {
		target := name
		count := n
		if _, err := cloned.Update(query.Mutation{
			Where: shardByID(target),
			Apply: func(r model.Record) model.Record {
				r["count"] = float64(count)
				return r
			},
		}); err != nil {
			return err
		}
	}
	_, err = cloned.Update(query.Mutation{
		Where: shardByID(""),
		Apply: func(r model.Record) model.Record {
			r["count"] = float64(total)
			return r
		},
	})
	return err
}

// Drop removes a secondary index definition from meta.
func (t *Table) Drop(field string) error {
	return t.meta.Drop(field)
}

// GetMeta aggregates row counts across every shard plus the index specs
// recorded in meta.
func (t *Table) GetMeta() (basictable.Meta, error) {
	rows, err := t.shards.Select(context.Background(), query.Select{})
	if err != nil {
		return basictable.Meta{}, err
	}
	total := 0
	for _, r := range rows {
		name, _ := r["name"].(string)
		if name == "" {
			count, _ := r["count"].(float64)
			total = int(count)
		}
	}
	meta := t.meta.GetMeta()
	return basictable.Meta{RowCount: total, Indexes: meta.Indexes}, nil
}
