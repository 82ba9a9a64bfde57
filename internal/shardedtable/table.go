package shardedtable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/xerrors"
)

type openShard struct {
	table *basictable.Table
	num   int
	lock  int
	pers  int
}

// Table is a sharded table coordinator.
type Table struct {
	dir    string
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	cacheCond *sync.Cond
	meta      *basictable.Table
	shards    *basictable.Table
	opened    map[string]*openShard
	order     []string // FIFO open order, for cache eviction
	freeNums  []int
	closed    bool
}

// Open opens (creating if needed) the sharded table rooted at dir.
func Open(dir string, opts Options, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CacheShards <= 0 {
		opts.CacheShards = 1
	}
	if opts.AutoShardSize <= 0 {
		opts.AutoShardSize = 1_000_000
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.System("create sharded table directory", err)
	}
	typePath := filepath.Join(dir, "type")
	if _, err := os.Stat(typePath); os.IsNotExist(err) {
		if err := os.WriteFile(typePath, []byte("sharded"), 0o644); err != nil {
			return nil, xerrors.System("write table type file", err)
		}
	}

	meta, err := basictable.Open(filepath.Join(dir, "meta"), basictable.DefaultOptions(), logger)
	if err != nil {
		return nil, err
	}
	shards, err := basictable.Open(filepath.Join(dir, "shards"), basictable.DefaultOptions(), logger)
	if err != nil {
		return nil, err
	}

	t := &Table{
		dir:    dir,
		opts:   opts,
		logger: logger,
		meta:   meta,
		shards: shards,
		opened: map[string]*openShard{},
	}
	t.cacheCond = sync.NewCond(&t.mu)

	rows, err := shards.Select(context.Background(), query.Select{})
	if err != nil {
		return nil, err
	}
	infoExists := false
	for _, r := range rows {
		if name, _ := r["name"].(string); name == "" {
			infoExists = true
		}
	}
	if !infoExists {
		if _, err := shards.Insert(model.Record{"name": "", "num": float64(-1), "count": float64(0)}, basictable.InsertReplace); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Close closes every open shard plus the meta/shards tables.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	for _, s := range t.opened {
		_ = s.table.Close()
	}
	t.opened = map[string]*openShard{}
	t.order = nil
	_ = t.meta.Close()
	_ = t.shards.Close()
	t.closed = true
	return nil
}

// Create adds a secondary index spec to meta. Unique indexes are rejected
// outright: ids are minted per shard, so no single shard can see every
// value a uniqueness check would need.
func (t *Table) Create(spec basictable.IndexSpec) error {
	if spec.Unique {
		return xerrors.Config(xerrors.ErrUniqueConstraintUnsupported, "sharded tables do not support unique indexes")
	}
	return t.meta.Create(spec)
}

// shardDir is the on-disk directory for shard number num: s0, s1, ...
func (t *Table) shardDir(num int) string { return filepath.Join(t.dir, fmt.Sprintf("s%d", num)) }

// lockShard pins name for use, opening it (allocating a shard record if
// new) if it is not already resident, waiting on the cache gate if the
// table is at capacity with nothing closable.
func (t *Table) lockShard(name string) (*basictable.Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.opened[name]; ok {
		s.lock++
		return s.table, nil
	}

	for len(t.opened) >= t.opts.CacheShards {
		if t.evictOneClosableLocked() {
			break
		}
		t.cacheCond.Wait()
	}

	num, err := t.shardNumLocked(name)
	if err != nil {
		return nil, err
	}

	opts := t.opts.ShardOptions
	opts.AutoIncrementFloor = int64(num) * shardCountStep
	tbl, err := basictable.Open(t.shardDir(num), opts, t.logger)
	if err != nil {
		return nil, err
	}
	t.opened[name] = &openShard{table: tbl, num: num, lock: 1}
	t.order = append(t.order, name)
	return tbl, nil
}

// unlockShard releases a pin taken by lockShard.
func (t *Table) unlockShard(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.opened[name]; ok && s.lock > 0 {
		s.lock--
	}
	t.cacheCond.Broadcast()
}

// pinPersistent/unpinPersistent hold a shard open across a query spanning
// multiple operations.
func (t *Table) pinPersistent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.opened[name]; ok {
		s.pers++
	}
}

func (t *Table) unpinPersistent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.opened[name]; ok && s.pers > 0 {
		s.pers--
	}
	t.cacheCond.Broadcast()
}

// evictOneClosableLocked closes the first FIFO-order open shard with no
// pins, if any. Caller holds t.mu.
func (t *Table) evictOneClosableLocked() bool {
	for i, name := range t.order {
		s := t.opened[name]
		if s == nil || s.lock != 0 || s.pers != 0 {
			continue
		}
		_ = s.table.Close()
		delete(t.opened, name)
		t.order = append(t.order[:i], t.order[i+1:]...)
		return true
	}
	return false
}

// shardNumLocked returns name's assigned shard number, allocating one from
// the free-numbers pool (recomputed when empty) if name is new. Caller
// holds t.mu.
func (t *Table) shardNumLocked(name string) (int, error) {
	all, err := t.shards.Select(context.Background(), query.Select{})
	if err != nil {
		return 0, err
	}
	used := map[int]bool{}
	for _, r := range all {
		rname, _ := r["name"].(string)
		if rname == name {
			if n, ok := r["num"].(float64); ok {
				return int(n), nil
			}
		}
		if rname == "" {
			continue
		}
		if n, ok := r["num"].(float64); ok {
			used[int(n)] = true
		}
	}

	if len(t.freeNums) == 0 {
		max := -1
		for n := range used {
			if n > max {
				max = n
			}
		}
		for n := 0; n < max; n++ {
			if !used[n] {
				t.freeNums = append(t.freeNums, n)
			}
		}
		if len(t.freeNums) == 0 {
			t.freeNums = append(t.freeNums, max+1)
		}
		sort.Ints(t.freeNums)
	}
	num := t.freeNums[0]
	t.freeNums = t.freeNums[1:]

	if _, err := t.shards.Insert(model.Record{"name": name, "num": float64(num), "count": float64(0)}, basictable.InsertReplace); err != nil {
		return 0, err
	}
	return num, nil
}

func fmtAutoName(n int) string { return fmt.Sprintf("auto_%d", n) }
