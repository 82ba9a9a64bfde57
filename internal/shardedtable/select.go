package shardedtable

import (
	"context"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
)

// Select describes a read query against a sharded table: query.Select plus
// a shard-scoping clause and a persistent-pin flag. Limit/Offset apply per
// shard and results are concatenated across shards, so global paging is
// not exact.
type Select struct {
	query.Select
	// Shards restricts the query to these shard names. Nil (and ShardWhere
	// nil) means every shard.
	Shards []string
	// ShardWhere, when Shards is nil, is evaluated against each shard's
	// (name, count) to decide inclusion — the predicate-based alternative
	// to an explicit list.
	ShardWhere func(name string, count int) bool
	// Persistent holds every shard this call touches open beyond the call
	// returning, until a later call naming the same shards with
	// Persistent=false clears the pin.
	Persistent bool
}

// shardByID matches the shards meta-table row whose name field equals name.
func shardByID(name string) predicate.Predicate {
	return predicate.Func(func(r model.Record) bool {
		rname, _ := r["name"].(string)
		return rname == name
	})
}

// Select runs q against every shard it selects, querying already-opened
// shards before unopened ones and concatenating results.
func (t *Table) Select(ctx context.Context, q Select) ([]model.Record, error) {
	names, err := t.resolveShardNames(q)
	if err != nil {
		return nil, err
	}

	opened, unopened := t.partitionByOpen(names)

	var out []model.Record
	for _, order := range [][]string{opened, unopened} {
		for _, name := range order {
			rows, err := t.selectOneShard(ctx, name, q)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
	}
	return out, nil
}

func (t *Table) selectOneShard(ctx context.Context, name string, q Select) ([]model.Record, error) {
	shard, err := t.lockShard(name)
	if err != nil {
		return nil, err
	}
	defer t.unlockShard(name)

	if q.Persistent {
		t.pinPersistent(name)
	} else {
		t.unpinPersistent(name)
	}

	return shard.Select(ctx, q.Select)
}

// resolveShardNames returns every shard name q selects, either its
// explicit list, the names satisfying ShardWhere, or every known shard.
func (t *Table) resolveShardNames(q Select) ([]string, error) {
	if q.Shards != nil {
		return q.Shards, nil
	}

	all, err := t.shards.Select(context.Background(), query.Select{})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, r := range all {
		name, _ := r["name"].(string)
		if name == "" {
			continue
		}
		if q.ShardWhere != nil {
			count, _ := r["count"].(float64)
			if !q.ShardWhere(name, int(count)) {
				continue
			}
		}
		names = append(names, name)
	}
	return names, nil
}

// partitionByOpen splits names into those already resident in the
// shard cache and those that are not, preserving relative order within
// each group.
func (t *Table) partitionByOpen(names []string) (opened, unopened []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		if _, ok := t.opened[name]; ok {
			opened = append(opened, name)
		} else {
			unopened = append(unopened, name)
		}
	}
	return opened, unopened
}
