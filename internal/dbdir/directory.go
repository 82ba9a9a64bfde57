package dbdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/filelock"
	"github.com/maruel/blockdb/internal/lockqueue"
	"github.com/maruel/blockdb/internal/memtable"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
	"github.com/maruel/blockdb/internal/shardedtable"
	"github.com/maruel/blockdb/internal/xerrors"
)

// temporaryTruncatingSuffix marks the scratch directory Truncate swaps a
// live table through.
const temporaryTruncatingSuffix = "___temporary_truncating"

// Directory is an open database directory: the table map, the directory
// file lock, and (optionally) the monitoring interceptor.
type Directory struct {
	dir     string
	opts    Options
	logger  *slog.Logger
	fileLck *filelock.Lock

	mapMu      sync.Mutex
	tables     map[string]*tableEntry
	tableLocks map[string]*lockqueue.Queue

	monitor *monitor
	closed  bool
}

// Open acquires the directory file lock and opens for business. It does
// not itself open every table on disk; call OpenAll for that.
func Open(opts Options, logger *slog.Logger) (*Directory, error) {
	if opts.DBPath == "" {
		return nil, xerrors.Config(xerrors.ErrMissingParameter, "dbPath is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Create {
		if err := os.MkdirAll(opts.DBPath, 0o755); err != nil {
			return nil, xerrors.System("create database directory", err)
		}
	} else if _, err := os.Stat(opts.DBPath); err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.NotFound(xerrors.ErrTableNotFound, fmt.Sprintf("database directory %q does not exist", opts.DBPath))
		}
		return nil, xerrors.System("stat database directory", err)
	}

	mode := filelock.Hard
	switch {
	case opts.IgnoreLock:
		mode = filelock.Ignore
	case opts.SoftLock:
		mode = filelock.Soft
	}
	lck, err := filelock.Acquire(opts.DBPath, mode, opts.LockGracePeriod, logger)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		dir:        opts.DBPath,
		opts:       opts,
		logger:     logger,
		fileLck:    lck,
		tables:     map[string]*tableEntry{},
		tableLocks: map[string]*lockqueue.Queue{},
	}
	if opts.Monitor.Enable {
		d.monitor = newMonitor(opts.Monitor, logger)
		// The monitoring table is selectable by name like any other table.
		d.tables[d.monitor.opts.Table] = &tableEntry{
			name:   d.monitor.opts.Table,
			kind:   Memory,
			handle: memHandle{t: d.monitor.table},
		}
	}
	return d, nil
}

// Close closes every open table, stops the monitor, and releases the
// directory file lock.
func (d *Directory) Close() error {
	d.mapMu.Lock()
	if d.closed {
		d.mapMu.Unlock()
		return nil
	}
	d.closed = true
	entries := make([]*tableEntry, 0, len(d.tables))
	for _, e := range d.tables {
		entries = append(entries, e)
	}
	d.tables = map[string]*tableEntry{}
	d.mapMu.Unlock()

	for _, e := range entries {
		if err := e.handle.Close(); err != nil {
			d.logger.Warn("dbdir: error closing table on directory close", "table", e.name, "err", err)
		}
	}
	if d.monitor != nil {
		d.monitor.stopSweeping()
	}
	return d.fileLck.Release()
}

func (d *Directory) checkOpenLocked() error {
	if d.closed {
		return xerrors.Config(xerrors.ErrDatabaseClosed, "database is closed")
	}
	return nil
}

func (d *Directory) tablePath(name string) string { return filepath.Join(d.dir, name) }

// tableLock returns the per-table async mutex for name, creating it on
// first use. Create/Drop/Truncate/Clone take this exclusively;
// open/close/tableExists/select/insert/update/delete do not — the hot path
// relies on each table's internal serialization.
func (d *Directory) tableLock(name string) *lockqueue.Queue {
	d.mapMu.Lock()
	defer d.mapMu.Unlock()
	q, ok := d.tableLocks[name]
	if !ok {
		q = lockqueue.New(0)
		d.tableLocks[name] = q
	}
	return q
}

// lookup returns the open handle for name. Tables present on disk but not
// yet opened are not implicitly opened here; callers go through OpenTable
// or OpenAll first.
func (d *Directory) lookup(name string) (*tableEntry, error) {
	d.mapMu.Lock()
	if err := d.checkOpenLocked(); err != nil {
		d.mapMu.Unlock()
		return nil, err
	}
	if e, ok := d.tables[name]; ok {
		d.mapMu.Unlock()
		return e, nil
	}
	d.mapMu.Unlock()
	return nil, xerrors.NotFound(xerrors.ErrTableNotOpen, fmt.Sprintf("table %q is not open", name))
}

// TableExists reports whether name is currently open or present on disk.
func (d *Directory) TableExists(name string) bool {
	d.mapMu.Lock()
	if _, ok := d.tables[name]; ok {
		d.mapMu.Unlock()
		return true
	}
	d.mapMu.Unlock()
	_, err := os.Stat(filepath.Join(d.tablePath(name), "type"))
	return err == nil
}

// OpenTable opens name if it exists on disk (or registers it if already
// open), applying opts. It does not take the per-table mutex; open and
// close rely on the atomicity of the map operations alone.
func (d *Directory) OpenTable(name string, opts TableOptions) error {
	d.mapMu.Lock()
	if err := d.checkOpenLocked(); err != nil {
		d.mapMu.Unlock()
		return err
	}
	if _, ok := d.tables[name]; ok {
		d.mapMu.Unlock()
		return nil
	}
	d.mapMu.Unlock()

	entry, err := d.openOne(name, opts)
	if err != nil {
		return err
	}
	d.mapMu.Lock()
	d.tables[name] = entry
	d.mapMu.Unlock()
	return nil
}

// openOne opens the on-disk table at name according to opts.Kind, without
// touching d.tables.
func (d *Directory) openOne(name string, opts TableOptions) (*tableEntry, error) {
	dir := d.tablePath(name)
	switch opts.Kind {
	case Memory:
		return &tableEntry{name: name, kind: Memory, handle: memHandle{t: memtable.Open()}}, nil
	case Sharded:
		t, err := shardedtable.Open(dir, opts.Sharded, d.logger)
		if err != nil {
			return nil, err
		}
		return &tableEntry{name: name, kind: Sharded, handle: shardedHandle{t: t}}, nil
	default:
		t, err := basictable.Open(dir, opts.Basic, d.logger)
		if err != nil {
			return nil, err
		}
		return &tableEntry{name: name, kind: Basic, handle: basicHandle{t: t}}, nil
	}
}

// CloseTable closes and forgets name, if open.
func (d *Directory) CloseTable(name string) error {
	d.mapMu.Lock()
	e, ok := d.tables[name]
	if !ok {
		d.mapMu.Unlock()
		return nil
	}
	delete(d.tables, name)
	d.mapMu.Unlock()
	return e.handle.Close()
}

// Create makes a brand-new table named name and opens it. Fails with
// ErrTableAlreadyExists if name is already open or present on disk.
func (d *Directory) Create(ctx context.Context, name string, opts TableOptions) error {
	return d.monitored("create", name, func() error {
		lock := d.tableLock(name)
		if err := lock.Acquire(ctx); err != nil {
			return err
		}
		defer lock.Release()

		if d.TableExists(name) {
			return xerrors.Config(xerrors.ErrTableAlreadyExists, fmt.Sprintf("table %q already exists", name))
		}
		return d.OpenTable(name, opts)
	})
}

// Drop closes (if open) and permanently removes name.
func (d *Directory) Drop(ctx context.Context, name string) error {
	return d.monitored("drop", name, func() error {
		lock := d.tableLock(name)
		if err := lock.Acquire(ctx); err != nil {
			return err
		}
		defer lock.Release()

		if !d.TableExists(name) {
			return xerrors.NotFound(xerrors.ErrTableNotFound, fmt.Sprintf("table %q does not exist", name))
		}
		if err := d.CloseTable(name); err != nil {
			return err
		}
		if err := os.RemoveAll(d.tablePath(name)); err != nil {
			return xerrors.System("remove table directory", err)
		}
		return nil
	})
}

// Truncate empties name in place: the live directory is renamed aside, a
// fresh empty table is created under the original name, and only once
// that succeeds is the old directory discarded. A failure between the
// rename and the fresh create restores the original directory instead of
// losing it.
func (d *Directory) Truncate(ctx context.Context, name string, opts TableOptions) error {
	return d.monitored("truncate", name, func() error {
		return d.truncateImpl(ctx, name, opts)
	})
}

func (d *Directory) truncateImpl(ctx context.Context, name string, opts TableOptions) error {
	lock := d.tableLock(name)
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release()

	d.mapMu.Lock()
	e, wasOpen := d.tables[name]
	d.mapMu.Unlock()

	if opts.Kind == Memory || (wasOpen && e.kind == Memory) {
		// Memory tables have no directory to swap; truncation replaces the
		// instance outright.
		opts.Kind = Memory
		if wasOpen {
			_ = e.handle.Close()
		}
		entry, err := d.openOne(name, opts)
		if err != nil {
			return err
		}
		d.mapMu.Lock()
		d.tables[name] = entry
		d.mapMu.Unlock()
		return nil
	}

	if wasOpen {
		if err := d.CloseTable(name); err != nil {
			return err
		}
	}

	live := d.tablePath(name)
	tmp := live + temporaryTruncatingSuffix
	if err := os.Rename(live, tmp); err != nil {
		return xerrors.System("rename live table directory aside", err)
	}

	entry, err := d.openOne(name, opts)
	if err != nil {
		if rerr := os.Rename(tmp, live); rerr != nil {
			d.logger.Error("dbdir: failed to restore original directory after truncate failure", "table", name, "err", rerr)
		}
		return err
	}

	if err := os.RemoveAll(tmp); err != nil {
		d.logger.Warn("dbdir: failed to remove superseded directory after truncate", "table", name, "err", err)
	}
	d.mapMu.Lock()
	d.tables[name] = entry
	d.mapMu.Unlock()
	return nil
}

// Clone copies src's rows (matching filter; nil means every row) into a
// fresh table named dst.
func (d *Directory) Clone(ctx context.Context, src, dst string, filter predicate.Predicate) error {
	return d.monitored("clone", src+"->"+dst, func() error {
		return d.cloneImpl(ctx, src, dst, filter)
	})
}

func (d *Directory) cloneImpl(ctx context.Context, src, dst string, filter predicate.Predicate) error {
	if src == dst {
		return xerrors.New(xerrors.KindConfig, "clone source and destination must differ")
	}
	srcLock := d.tableLock(src)
	if err := srcLock.Acquire(ctx); err != nil {
		return err
	}
	defer srcLock.Release()
	dstLock := d.tableLock(dst)
	if err := dstLock.Acquire(ctx); err != nil {
		return err
	}
	defer dstLock.Release()

	if d.TableExists(dst) {
		return xerrors.Config(xerrors.ErrTableAlreadyExists, fmt.Sprintf("table %q already exists", dst))
	}
	entry, err := d.lookup(src)
	if err != nil {
		return err
	}

	switch h := entry.handle.(type) {
	case basicHandle:
		if _, err := h.t.Clone(d.tablePath(dst), filter); err != nil {
			return err
		}
	case shardedHandle:
		if err := h.t.Clone(d.tablePath(dst), filter); err != nil {
			return err
		}
	case memHandle:
		rows, err := h.t.Select(query.Select{Where: filter})
		if err != nil {
			return err
		}
		dstTable := memtable.Open()
		for _, r := range rows {
			if _, err := dstTable.Insert(r, basictable.InsertReplace); err != nil {
				_ = dstTable.Close()
				return err
			}
		}
		d.mapMu.Lock()
		d.tables[dst] = &tableEntry{name: dst, kind: Memory, handle: memHandle{t: dstTable}}
		d.mapMu.Unlock()
		return nil
	}

	opts := DefaultTableOptions()
	opts.Kind = entry.kind
	opts.Basic = d.opts.TableDefaults
	return d.OpenTable(dst, opts)
}

// OpenAll opens every table subdirectory of the database directory that
// is not already open, skipping Truncate's scratch directories, in
// directory-listing order.
func (d *Directory) OpenAll(defaults TableOptions) error {
	items, err := os.ReadDir(d.dir)
	if err != nil {
		return xerrors.System("list database directory", err)
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		if !it.IsDir() || strings.Contains(it.Name(), temporaryTruncatingSuffix) {
			continue
		}
		names = append(names, it.Name())
	}
	for _, name := range names {
		opts := defaults
		if kind, ok := d.readTableKind(name); ok {
			opts.Kind = kind
		}
		if err := d.OpenTable(name, opts); err != nil {
			return fmt.Errorf("open table %q: %w", name, err)
		}
	}
	return nil
}

func (d *Directory) readTableKind(name string) (Kind, bool) {
	data, err := os.ReadFile(filepath.Join(d.tablePath(name), "type"))
	if err != nil {
		return Basic, false
	}
	switch strings.TrimSpace(string(data)) {
	case "memory":
		return Memory, true
	case "sharded":
		return Sharded, true
	case "basic":
		return Basic, true
	default:
		return Basic, false
	}
}

// GetDbInfo enumerates every table directory with its on-disk kind.
func (d *Directory) GetDbInfo() (map[string]Kind, error) {
	items, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, xerrors.System("list database directory", err)
	}
	info := map[string]Kind{}
	for _, it := range items {
		if !it.IsDir() || strings.Contains(it.Name(), temporaryTruncatingSuffix) {
			continue
		}
		kind, _ := d.readTableKind(it.Name())
		info[it.Name()] = kind
	}
	return info, nil
}

// GetDbSize returns the total size in bytes of every file under the
// database directory, the lock sentinel included (memory tables have no
// files and contribute 0).
func (d *Directory) GetDbSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(d.dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, xerrors.System("walk database directory", err)
	}
	return total, nil
}
