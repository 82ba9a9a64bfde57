// Package filelock implements the cooperative, sentinel-file exclusion lock
// a database directory holds over itself: a marker file is
// created inside the directory and refreshed by a background watcher for
// as long as the lock is held; another process sees a live marker and
// backs off (hard mode), steals a stale one (soft mode), or ignores it
// entirely (ignore mode).
package filelock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maruel/blockdb/internal/xerrors"
)

// Mode selects how Acquire behaves when a sentinel already exists.
type Mode int

const (
	// Hard fails immediately if any sentinel is present.
	Hard Mode = iota
	// Soft steals a sentinel older than the grace period.
	Soft
	// Ignore opens regardless of any existing sentinel.
	Ignore
)

const sentinelName = ".dblock"

// DefaultGracePeriod is how old a sentinel must be before Soft mode will
// steal it.
const DefaultGracePeriod = 30 * time.Second

// refreshInterval is how often the background watcher rewrites the
// sentinel's timestamp while the lock is held.
const refreshInterval = 5 * time.Second

// Lock holds an acquired directory lock. The zero value is not usable.
type Lock struct {
	path   string
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	stolen bool
}

// Acquire takes the directory lock at dir, creating dir's sentinel file and
// starting the background refresh watcher. The caller must call Release
// when done with the directory.
func Acquire(dir string, mode Mode, grace time.Duration, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	sentinel := filepath.Join(dir, sentinelName)

	if info, err := os.Stat(sentinel); err == nil {
		switch mode {
		case Hard:
			return nil, xerrors.Busy(xerrors.ErrDatabaseLocked, fmt.Sprintf("directory %q is locked", dir))
		case Soft:
			if time.Since(info.ModTime()) < grace {
				return nil, xerrors.Busy(xerrors.ErrDatabaseLocked, fmt.Sprintf("directory %q is locked (held %s ago)", dir, time.Since(info.ModTime())))
			}
			logger.Warn("filelock: stealing stale sentinel", "dir", dir, "age", time.Since(info.ModTime()))
		case Ignore:
			// proceed regardless
		}
	} else if !os.IsNotExist(err) {
		return nil, xerrors.System("stat sentinel", err)
	}

	if err := writeSentinel(sentinel); err != nil {
		return nil, xerrors.System("write sentinel", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: sentinel, logger: logger, cancel: cancel, done: make(chan struct{})}
	go l.watch(ctx)
	return l, nil
}

func writeSentinel(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// watch refreshes the sentinel's mtime on a timer and logs if something
// external removes it out from under us (a Soft-mode steal by another
// process, or manual cleanup).
func (l *Lock) watch(ctx context.Context) {
	defer close(l.done)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Warn("filelock: watcher unavailable, refresh-only", "err", err)
		l.refreshLoop(ctx, nil)
		return
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		l.logger.Warn("filelock: failed to watch directory", "err", err)
	}
	l.refreshLoop(ctx, watcher)
}

func (l *Lock) refreshLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if err := os.Chtimes(l.path, now, now); err != nil {
				if os.IsNotExist(err) {
					l.markStolen()
					continue
				}
				l.logger.Warn("filelock: refresh failed", "err", err)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == l.path && (ev.Op&(fsnotify.Remove|fsnotify.Rename)) != 0 {
				l.markStolen()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.logger.Warn("filelock: watcher error", "err", err)
		}
	}
}

func (l *Lock) markStolen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stolen {
		l.stolen = true
		l.logger.Error("filelock: sentinel disappeared while held, lock may have been stolen", "path", l.path)
	}
}

// Stolen reports whether the sentinel vanished out from under this lock.
func (l *Lock) Stolen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stolen
}

// Release stops the watcher and removes the sentinel file.
func (l *Lock) Release() error {
	l.cancel()
	<-l.done
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return xerrors.System("remove sentinel", err)
	}
	return nil
}
