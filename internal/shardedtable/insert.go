package shardedtable

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/xerrors"
)

// Insert adds rec to the shard named by its "shard" field, or by calling
// gen if absent. gen returning the reserved name ___auto asks the
// coordinator to pick (preferring an already-open shard under
// autoShardSize) or mint a new auto_<n> shard. Client-assigned ids are
// forbidden: every shard mints its own from its seeded id space.
func (t *Table) Insert(rec model.Record, gen Generator) (int64, error) {
	if _, hasID := rec[model.IDKey]; hasID {
		return 0, xerrors.New(xerrors.KindConfig, "sharded insert does not accept a caller-assigned id")
	}

	name, _ := rec[model.ShardKey].(string)
	if name == "" {
		if gen == nil {
			return 0, xerrors.Config(xerrors.ErrMissingParameter, "no shard field and no generator supplied")
		}
		name = gen(rec)
	}
	if name == reservedAutoShard {
		resolved, err := t.resolveAutoShard()
		if err != nil {
			return 0, err
		}
		name = resolved
	}

	clean := model.Record{}
	for k, v := range rec {
		if k == model.ShardKey {
			continue
		}
		clean[k] = v
	}

	shard, err := t.lockShard(name)
	if err != nil {
		return 0, err
	}
	defer t.unlockShard(name)

	id, err := shard.Insert(clean, basictable.InsertDefault)
	if err != nil {
		return 0, err
	}
	if err := t.bumpCount(name, 1); err != nil {
		return 0, err
	}
	return id, nil
}

// resolveAutoShard picks a shard with spare capacity, preferring currently
// opened shards, or mints a fresh auto_<n> name.
func (t *Table) resolveAutoShard() (string, error) {
	t.mu.Lock()
	for name := range t.opened {
		rec, err := t.shardRecord(name)
		if err == nil && rec.Count < t.opts.AutoShardSize {
			t.mu.Unlock()
			return name, nil
		}
	}
	t.mu.Unlock()

	all, err := t.shards.Select(context.Background(), query.Select{})
	if err != nil {
		return "", err
	}
	maxAuto := 0
	for _, r := range all {
		name, _ := r["name"].(string)
		if name == "" {
			continue
		}
		count, _ := r["count"].(float64)
		if int(count) < t.opts.AutoShardSize {
			return name, nil
		}
		if n, ok := strings.CutPrefix(name, "auto_"); ok {
			if v, err := strconv.Atoi(n); err == nil && v > maxAuto {
				maxAuto = v
			}
		}
	}
	return fmtAutoName(maxAuto + 1), nil
}

func (t *Table) shardRecord(name string) (shardRecord, error) {
	rows, err := t.shards.Select(context.Background(), query.Select{})
	if err != nil {
		return shardRecord{}, err
	}
	for _, r := range rows {
		if rname, _ := r["name"].(string); rname == name {
			num, _ := r["num"].(float64)
			count, _ := r["count"].(float64)
			return shardRecord{Name: name, Num: int(num), Count: int(count)}, nil
		}
	}
	return shardRecord{}, fmt.Errorf("shard %q has no record", name)
}

// bumpCount adjusts both the named shard's count and the info shard's
// total by delta, keeping the sum of shard counts equal to the info
// shard's total.
func (t *Table) bumpCount(name string, delta int) error {
	if _, err := t.shards.Update(query.Mutation{
		Where: shardByID(name),
		Apply: func(r model.Record) model.Record {
			count, _ := r["count"].(float64)
			r["count"] = count + float64(delta)
			return r
		},
	}); err != nil {
		return err
	}
	_, err := t.shards.Update(query.Mutation{
		Where: shardByID(""),
		Apply: func(r model.Record) model.Record {
			count, _ := r["count"].(float64)
			r["count"] = count + float64(delta)
			return r
		},
	})
	return err
}
