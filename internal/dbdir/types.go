// Package dbdir implements the database directory manager: it owns the
// table map for one on-disk database, coordinates table lifecycle
// (open/close/create/drop/truncate/clone) under a directory-wide file lock
// plus a per-table async mutex, answers GetDbInfo/GetDbSize, and
// optionally records the data calls (select/insert/update/delete) and the
// lifecycle calls (create/drop/truncate/clone) for monitoring; other
// methods, such as OpenTable, CloseTable, OpenAll and GetMeta, are not
// recorded.
package dbdir

import (
	"context"
	"time"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/memtable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/shardedtable"
)

// Kind selects a table's storage implementation.
type Kind int

const (
	// Basic is an on-disk table backed by internal/rowstore.
	Basic Kind = iota
	// Memory is a pure in-memory table.
	Memory
	// Sharded is a multi-shard coordinator table.
	Sharded
)

func (k Kind) String() string {
	switch k {
	case Basic:
		return "basic"
	case Memory:
		return "memory"
	case Sharded:
		return "sharded"
	default:
		return "unknown"
	}
}

// Options configures opening a database directory.
type Options struct {
	// DBPath is the directory root. Required.
	DBPath string
	// Create creates DBPath if it does not already exist.
	Create bool
	// SoftLock steals a stale lock sentinel instead of failing hard.
	SoftLock bool
	// IgnoreLock opens regardless of any existing lock sentinel.
	IgnoreLock bool
	// TableDefaults is the basic-table configuration Clone opens a basic
	// destination table with. OpenAll and Create do not read it; they use
	// the TableOptions passed to them.
	TableDefaults basictable.Options
	// LockGracePeriod overrides filelock's default soft-steal grace
	// period; zero keeps the package default.
	LockGracePeriod time.Duration
	// Monitor configures call interception.
	Monitor MonitorOptions
}

// TableOptions configures one table open/create call, spanning every
// table Kind this package supports.
type TableOptions struct {
	Kind    Kind
	Basic   basictable.Options
	Sharded shardedtable.Options
}

// DefaultTableOptions is the configuration a table opens with when the
// caller does not override it.
func DefaultTableOptions() TableOptions {
	return TableOptions{Kind: Basic, Basic: basictable.DefaultOptions(), Sharded: shardedtable.DefaultOptions()}
}

// MonitorOptions configures the directory's call-interception monitor.
type MonitorOptions struct {
	Enable          bool
	Table           string
	IntervalMinutes int
	MaxQueryLength  int
}

// DefaultMonitorOptions is the monitoring configuration used when the
// caller enables monitoring without overrides.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{Table: "__monitoring", IntervalMinutes: 15, MaxQueryLength: 200}
}

// InsertOptions configures Directory.Insert. Exactly one field applies,
// selected by the target table's Kind: Mode for Basic/Memory tables,
// Generator for Sharded tables.
type InsertOptions struct {
	Mode      basictable.InsertMode
	Generator shardedtable.Generator
}

// tableHandle is the subset of basictable/memtable/shardedtable's contract
// that does not vary by kind. Insert and Clone vary enough (different
// parameters, different on-disk orchestration) that Directory handles
// them with a type switch instead of forcing a common signature on them.
type tableHandle interface {
	Close() error
	Select(ctx context.Context, q query.Select) ([]model.Record, error)
	Update(m query.Mutation) (int, error)
	Delete(where predicate.Predicate) (int, error)
	Create(spec basictable.IndexSpec) error
	Drop(field string) error
	GetMeta() (basictable.Meta, error)
}

type basicHandle struct{ t *basictable.Table }

func (h basicHandle) Close() error { return h.t.Close() }
func (h basicHandle) Select(ctx context.Context, q query.Select) ([]model.Record, error) {
	return h.t.Select(ctx, q)
}
func (h basicHandle) Update(m query.Mutation) (int, error)      { return h.t.Update(m) }
func (h basicHandle) Delete(w predicate.Predicate) (int, error) { return h.t.Delete(w) }
func (h basicHandle) Create(spec basictable.IndexSpec) error    { return h.t.Create(spec) }
func (h basicHandle) Drop(field string) error                   { return h.t.Drop(field) }
func (h basicHandle) GetMeta() (basictable.Meta, error)         { return h.t.GetMeta(), nil }

type memHandle struct{ t *memtable.Table }

func (h memHandle) Close() error { return h.t.Close() }
func (h memHandle) Select(_ context.Context, q query.Select) ([]model.Record, error) {
	return h.t.Select(q)
}
func (h memHandle) Update(m query.Mutation) (int, error)      { return h.t.Update(m) }
func (h memHandle) Delete(w predicate.Predicate) (int, error) { return h.t.Delete(w) }
func (h memHandle) Create(spec basictable.IndexSpec) error    { return h.t.Create(spec) }
func (h memHandle) Drop(field string) error                   { return h.t.Drop(field) }
func (h memHandle) GetMeta() (basictable.Meta, error)         { return h.t.GetMeta(), nil }

type shardedHandle struct{ t *shardedtable.Table }

func (h shardedHandle) Close() error { return h.t.Close() }
func (h shardedHandle) Select(ctx context.Context, q query.Select) ([]model.Record, error) {
	return h.t.Select(ctx, shardedtable.Select{Select: q})
}
func (h shardedHandle) Update(m query.Mutation) (int, error)      { return h.t.Update(m) }
func (h shardedHandle) Delete(w predicate.Predicate) (int, error) { return h.t.Delete(w) }
func (h shardedHandle) Create(spec basictable.IndexSpec) error    { return h.t.Create(spec) }
func (h shardedHandle) Drop(field string) error                   { return h.t.Drop(field) }
func (h shardedHandle) GetMeta() (basictable.Meta, error)         { return h.t.GetMeta() }

// tableEntry is what the directory keeps per open table.
type tableEntry struct {
	name   string
	kind   Kind
	handle tableHandle
}
