package rowstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/blockdb/internal/model"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	dir := t.TempDir()
	e := New(dir, opts, nil)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func TestSetGetRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()

	e := New(dir, opts, nil)
	if _, err := e.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	step := 1
	for i := int64(0); i < 50; i++ {
		rec := model.Record{"n": i, "name": "row"}
		if err := e.Set(i, rec, 64, step); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if err := e.CommitDelta(step); err != nil {
		t.Fatalf("CommitDelta: %v", err)
	}

	e2 := New(dir, opts, nil)
	seed, err := e2.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if seed != 50 {
		t.Fatalf("autoincrement seed = %d, want 50", seed)
	}
	for i := int64(0); i < 50; i++ {
		rec, ok, err := e2.Get(context.Background(), i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("Get(%d): not found after reload", i)
		}
		if rec["n"] != float64(i) && rec["n"] != i {
			t.Errorf("Get(%d) = %v, want n=%d", i, rec, i)
		}
	}
}

func TestSetThenDeleteRemovesWithoutRegressingAutoincrement(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())
	step := 1
	if err := e.Set(1, model.Record{"a": 1}, 32, step); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(2, model.Record{"a": 2}, 32, step); err != nil {
		t.Fatal(err)
	}
	if err := e.Del(1, step); err != nil {
		t.Fatal(err)
	}
	if err := e.CommitDelta(step); err != nil {
		t.Fatal(err)
	}
	if e.Has(1) {
		t.Fatal("id 1 should be gone after delete")
	}
	if !e.Has(2) {
		t.Fatal("id 2 should survive")
	}
}

func TestBlockRollsOverAtCeiling(t *testing.T) {
	opts := DefaultOptions()
	opts.BlockCeiling = 100
	e := newTestEngine(t, opts)
	step := 1
	if err := e.Set(1, model.Record{"v": "x"}, 60, step); err != nil {
		t.Fatal(err)
	}
	if e.currentBlockIndex != 1 {
		t.Fatalf("first set should stay in block 1, got %d", e.currentBlockIndex)
	}
	if err := e.Set(2, model.Record{"v": "y"}, 60, step); err != nil {
		t.Fatal(err)
	}
	if e.currentBlockIndex != 2 {
		t.Fatalf("set exceeding ceiling should roll to block 2, got %d", e.currentBlockIndex)
	}
}

func TestDefragReclaimsSparseBlocks(t *testing.T) {
	opts := DefaultOptions()
	opts.BlockCeiling = 200
	e := newTestEngine(t, opts)

	step := 1
	for i := int64(1); i <= 100; i++ {
		if err := e.Set(i, model.Record{"v": "xxxxxxxxxxxxxxxxxxxx", "n": i}, 40, step); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	if err := e.CommitDelta(step); err != nil {
		t.Fatalf("CommitDelta: %v", err)
	}
	blocksBefore := len(e.blockList)
	if blocksBefore < 10 {
		t.Fatalf("expected many blocks before defrag, got %d", blocksBefore)
	}

	step = 2
	for i := int64(1); i <= 100; i += 2 {
		if err := e.Del(i, step); err != nil {
			t.Fatalf("Del(%d): %v", i, err)
		}
	}
	if err := e.CommitDelta(step); err != nil {
		t.Fatalf("CommitDelta: %v", err)
	}

	if len(e.blockList) >= blocksBefore {
		t.Fatalf("blockList did not shrink after defrag: %d -> %d", blocksBefore, len(e.blockList))
	}

	// Every block file on disk must still be accounted for in blockList.
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, ent := range entries {
		name := ent.Name()
		if filepath.Ext(name) != ".jem" {
			continue
		}
		var idx uint64
		if _, err := fmt.Sscanf(name, "%d.jem", &idx); err != nil {
			t.Fatalf("unexpected block file name %q", name)
		}
		if _, ok := e.blockList[idx]; !ok {
			t.Fatalf("orphan block file %q left behind after defrag", name)
		}
	}

	// Surviving rows are still readable.
	for i := int64(2); i <= 100; i += 2 {
		if _, ok, err := e.Get(context.Background(), i); err != nil || !ok {
			t.Fatalf("Get(%d) after defrag: ok=%v err=%v", i, ok, err)
		}
	}
	for i := int64(1); i <= 100; i += 2 {
		if e.Has(i) {
			t.Fatalf("deleted id %d still present after defrag", i)
		}
	}
}

func TestCancelDeltaDropsPendingWithoutCommitting(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())
	step := 1
	if err := e.Set(1, model.Record{"a": 1}, 32, step); err != nil {
		t.Fatal(err)
	}
	e.CancelDelta(step)
	if _, ok := e.pendingDeltas[step]; ok {
		t.Fatal("pending delta should have been dropped")
	}
	// CommitDelta on an unknown/cancelled step is a no-op, not an error.
	if err := e.CommitDelta(step); err != nil {
		t.Fatalf("CommitDelta after cancel: %v", err)
	}
}

func TestIdempotentCommitOfEmptyDelta(t *testing.T) {
	e := newTestEngine(t, DefaultOptions())
	if err := e.Set(1, model.Record{"a": 1}, 32, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.CommitDelta(1); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(blockIndexSummaryPath(e.dir))
	_ = err // summary may not exist yet; that's fine either way
	if err := e.CommitDelta(2); err != nil {
		t.Fatalf("commit of absent delta: %v", err)
	}
	after, _ := os.ReadFile(blockIndexSummaryPath(e.dir))
	if string(before) != string(after) {
		t.Fatal("committing an empty/absent delta must not change on-disk summaries")
	}
}
