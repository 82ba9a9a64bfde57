package filelock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maruel/blockdb/internal/xerrors"
)

func TestAcquireReleaseCreatesAndRemovesSentinel(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, Hard, 0, nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	sentinel := filepath.Join(dir, sentinelName)
	if _, err := os.Stat(sentinel); err != nil {
		t.Fatalf("sentinel missing while held: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(sentinel); !os.IsNotExist(err) {
		t.Fatalf("sentinel should be gone after release, stat err=%v", err)
	}
}

func TestHardModeFailsOnExistingSentinel(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, Hard, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	if _, err := Acquire(dir, Hard, 0, nil); !errors.Is(err, xerrors.ErrDatabaseLocked) {
		t.Fatalf("second hard acquire should fail with ErrDatabaseLocked, got %v", err)
	}
}

func TestSoftModeStealsStaleSentinel(t *testing.T) {
	dir := t.TempDir()
	sentinel := filepath.Join(dir, sentinelName)
	if err := os.WriteFile(sentinel, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(sentinel, stale, stale); err != nil {
		t.Fatal(err)
	}

	// A fresh sentinel is not stolen.
	if _, err := Acquire(dir, Soft, 2*time.Hour, nil); !errors.Is(err, xerrors.ErrDatabaseLocked) {
		t.Fatalf("soft acquire within grace should fail, got %v", err)
	}

	l, err := Acquire(dir, Soft, time.Minute, nil)
	if err != nil {
		t.Fatalf("soft acquire past grace should steal the lock: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestIgnoreModeOpensRegardless(t *testing.T) {
	dir := t.TempDir()
	l1, err := Acquire(dir, Hard, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	l2, err := Acquire(dir, Ignore, 0, nil)
	if err != nil {
		t.Fatalf("ignore-mode acquire should always succeed: %v", err)
	}
	_ = l2.Release()
	_ = l1.Release()
}
