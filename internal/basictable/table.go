// Package basictable implements the external contract every on-disk table
// exposes: open/close/create/drop/select/insert/update/
// delete/clone over an internal/rowstore engine, plus the secondary
// indexes internal/predicate's IDSet/IndexRange nodes can be satisfied
// from directly instead of a full scan.
package basictable

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/rowstore"
	"github.com/maruel/blockdb/internal/xerrors"
)

// InsertMode controls what happens when an inserted row's id already
// exists.
type InsertMode int

const (
	// InsertDefault fails if the id already exists.
	InsertDefault InsertMode = iota
	// InsertReplace overwrites the existing row.
	InsertReplace
	// InsertIgnore silently skips rows whose id already exists.
	InsertIgnore
)

// Options configures an open table.
type Options struct {
	CacheSize  int
	Compressed int
	// BlockSize overrides the engine's block-size ceiling in bytes; 0
	// keeps the engine default.
	BlockSize        int
	Recreate         bool
	AutoRepair       bool
	ForceFileClosing bool
	// AutoIncrementFloor raises the table's recovered autoincrement seed to
	// at least this value. A sharded table's coordinator uses this to seed
	// each shard's ids from num*shardCountStep so ids never collide across
	// shards.
	AutoIncrementFloor int64
}

// DefaultOptions is the configuration a table opens with when the caller
// does not override it.
func DefaultOptions() Options {
	return Options{CacheSize: 5, Compressed: 0}
}

// Meta summarizes a table for callers that need counts/specs without a
// full select.
type Meta struct {
	RowCount int
	Indexes  []IndexSpec
}

// Table is one on-disk basic table.
type Table struct {
	dir    string
	opts   Options
	logger *slog.Logger

	mu            sync.Mutex
	engine        *rowstore.Engine
	autoIncrement int64
	nextDelta     int
	closed        bool
	corrupted     bool
	fileErr       error
	indexes       map[string]*index
}

// Open opens (creating if needed and opts.Recreate or absent) the table
// rooted at dir.
func Open(dir string, opts Options, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Recreate {
		if err := os.RemoveAll(dir); err != nil {
			return nil, xerrors.System("recreate table directory", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.System("create table directory", err)
	}
	typePath := filepath.Join(dir, "type")
	if _, err := os.Stat(typePath); os.IsNotExist(err) {
		if err := os.WriteFile(typePath, []byte("basic"), 0o644); err != nil {
			return nil, xerrors.System("write table type file", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "state"), []byte("1"), 0o644); err != nil {
			return nil, xerrors.System("write table state file", err)
		}
	}

	t := &Table{
		dir:     dir,
		opts:    opts,
		logger:  logger,
		indexes: map[string]*index{},
	}
	if err := t.loadIndexSpecs(); err != nil {
		return nil, err
	}

	ropts := rowstore.DefaultOptions()
	if opts.CacheSize > 0 {
		ropts.LoadedBlocksCount = opts.CacheSize
	}
	if opts.BlockSize > 0 {
		ropts.BlockCeiling = opts.BlockSize
	}
	ropts.CompressLevel = opts.Compressed
	t.engine = rowstore.New(dir, ropts, logger)

	state, _ := os.ReadFile(filepath.Join(dir, "state"))
	corrupted := string(state) == "0"
	var seed int64
	var err error
	if corrupted {
		if !opts.AutoRepair {
			return nil, xerrors.Data("open table", fmt.Errorf("table %q marked corrupted", dir))
		}
		seed, err = t.engine.LoadCorrupted()
	} else {
		seed, err = t.engine.Load()
		if err != nil && opts.AutoRepair {
			// A crash can corrupt the journals without the state sentinel
			// ever flipping; with AutoRepair the rescue path still applies.
			logger.Warn("basictable: strict load failed, retrying via repair path", "dir", dir, "err", err)
			t.engine = rowstore.New(dir, ropts, logger)
			corrupted = true
			seed, err = t.engine.LoadCorrupted()
		}
	}
	if err != nil {
		return nil, err
	}
	t.autoIncrement = seed
	if t.autoIncrement < 1 {
		t.autoIncrement = 1
	}
	if opts.AutoIncrementFloor > t.autoIncrement {
		t.autoIncrement = opts.AutoIncrementFloor
	}

	if err := t.rebuildIndexesLocked(); err != nil {
		return nil, err
	}
	if corrupted {
		if err := os.WriteFile(filepath.Join(dir, "state"), []byte("1"), 0o644); err != nil {
			logger.Warn("basictable: failed to clear state sentinel after repair", "dir", dir, "err", err)
		}
	}
	return t, nil
}

// Close releases the table's in-memory state. Nothing further may be
// called on it afterward.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.engine.Destroy()
	t.closed = true
	return nil
}

// MarkCorrupted records a sticky error and closes the table; subsequent
// calls fail fast until the table is reopened with AutoRepair.
func (t *Table) MarkCorrupted(cause error) {
	t.mu.Lock()
	t.corrupted = true
	t.fileErr = cause
	t.mu.Unlock()
	_ = os.WriteFile(filepath.Join(t.dir, "state"), []byte("0"), 0o644)
	_ = t.Close()
}

func (t *Table) checkOpenLocked() error {
	if t.closed {
		return xerrors.NotFound(xerrors.ErrTableNotOpen, "table is closed")
	}
	if t.corrupted {
		return xerrors.Data("table corrupted", fmt.Errorf("%w: %v", xerrors.ErrTableCorrupted, t.fileErr))
	}
	return nil
}

// GetMeta returns a snapshot of table-level metadata.
func (t *Table) GetMeta() Meta {
	t.mu.Lock()
	defer t.mu.Unlock()
	specs := make([]IndexSpec, 0, len(t.indexes))
	for _, ix := range t.indexes {
		specs = append(specs, ix.spec)
	}
	return Meta{RowCount: len(t.engine.IterateIds()), Indexes: specs}
}

// Create adds a secondary index, persisting its spec so it survives
// reopen, then backfills it from the current rows.
func (t *Table) Create(spec IndexSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	if _, exists := t.indexes[spec.Field]; exists {
		return nil
	}
	t.indexes[spec.Field] = newIndex(spec)
	if err := t.rebuildIndexesLocked(); err != nil {
		return err
	}
	return t.saveIndexSpecsLocked()
}

// Drop removes a secondary index definition.
func (t *Table) Drop(field string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	delete(t.indexes, field)
	return t.saveIndexSpecsLocked()
}

func (t *Table) loadIndexSpecs() error {
	data, err := os.ReadFile(filepath.Join(t.dir, "indexes.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.System("read index specs", err)
	}
	var specs []IndexSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return xerrors.Data("decode index specs", err)
	}
	for _, spec := range specs {
		t.indexes[spec.Field] = newIndex(spec)
	}
	return nil
}

func (t *Table) saveIndexSpecsLocked() error {
	specs := make([]IndexSpec, 0, len(t.indexes))
	for _, ix := range t.indexes {
		specs = append(specs, ix.spec)
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return xerrors.Data("encode index specs", err)
	}
	if err := os.WriteFile(filepath.Join(t.dir, "indexes.json"), data, 0o644); err != nil {
		return xerrors.System("write index specs", err)
	}
	return nil
}

func (t *Table) rebuildIndexesLocked() error {
	if len(t.indexes) == 0 {
		return nil
	}
	rows := map[int64]model.Record{}
	for _, id := range t.engine.IterateIds() {
		rec, ok, err := t.engine.Get(context.Background(), id)
		if err != nil {
			return err
		}
		if ok {
			rows[id] = rec
		}
	}
	rebuildIndexes(t.indexes, rows)
	return nil
}

// allocDeltaStep returns a fresh, monotonically increasing delta step.
// Each public write call commits its own step before returning, so the
// journal stays totally ordered per table.
func (t *Table) allocDeltaStep() int {
	t.nextDelta++
	return t.nextDelta
}
