package shardedtable

import (
	"context"
	"testing"
	"time"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/query"
)

func openTestTable(t *testing.T, opts Options) *Table {
	t.Helper()
	tbl, err := Open(t.TempDir(), opts, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func TestInsertExplicitShardThenSelect(t *testing.T) {
	tbl := openTestTable(t, DefaultOptions())
	if _, err := tbl.Insert(model.Record{"shard": "a", "v": 1}, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tbl.Insert(model.Record{"shard": "b", "v": 2}, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rows, err := tbl.Select(context.Background(), Select{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestInsertForbidsClientID(t *testing.T) {
	tbl := openTestTable(t, DefaultOptions())
	if _, err := tbl.Insert(model.Record{"id": 1, "shard": "a"}, nil); err == nil {
		t.Fatal("expected error inserting a row with a caller-assigned id")
	}
}

func TestAutoShardDistributesAcrossShards(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoShardSize = 3
	tbl := openTestTable(t, opts)

	gen := func(model.Record) string { return reservedAutoShard }
	for i := 0; i < 10; i++ {
		if _, err := tbl.Insert(model.Record{"v": i}, gen); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	rows, err := tbl.shards.Select(context.Background(), query.Select{})
	if err != nil {
		t.Fatalf("shards.Select: %v", err)
	}
	total := 0
	shardCount := 0
	for _, r := range rows {
		name, _ := r["name"].(string)
		if name == "" {
			continue
		}
		shardCount++
		count, _ := r["count"].(float64)
		if count <= 0 || count > 3 {
			t.Fatalf("shard %q has count %v, want in (0,3]", name, count)
		}
		total += int(count)
	}
	if total != 10 {
		t.Fatalf("total rows across shards = %d, want 10", total)
	}
	if shardCount != 4 {
		t.Fatalf("got %d shards, want 4", shardCount)
	}
}

func TestDeleteUpdatesShardAndInfoCounts(t *testing.T) {
	tbl := openTestTable(t, DefaultOptions())
	for i := 0; i < 5; i++ {
		if _, err := tbl.Insert(model.Record{"shard": "a", "v": float64(i)}, nil); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := tbl.Delete(evenValue{})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("deleted %d rows, want 3 (v=0,2,4)", n)
	}

	rec, err := tbl.shardRecord("a")
	if err != nil {
		t.Fatalf("shardRecord: %v", err)
	}
	if rec.Count != 2 {
		t.Fatalf("shard a count = %d, want 2", rec.Count)
	}
	info, err := tbl.shardRecord("")
	if err != nil {
		t.Fatalf("shardRecord info: %v", err)
	}
	if info.Count != 2 {
		t.Fatalf("info shard count = %d, want 2", info.Count)
	}
}

// evenValue matches rows whose "v" field is an even number.
type evenValue struct{}

func (evenValue) Match(r model.Record) bool {
	v, ok := r["v"].(float64)
	return ok && int(v)%2 == 0
}

func TestPersistentPinBlocksEvictionUntilCleared(t *testing.T) {
	opts := DefaultOptions()
	opts.CacheShards = 1
	tbl := openTestTable(t, opts)
	ctx := context.Background()

	if _, err := tbl.Insert(model.Record{"shard": "a", "v": 1}, nil); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	if _, err := tbl.Insert(model.Record{"shard": "b", "v": 2}, nil); err != nil {
		t.Fatalf("Insert b: %v", err)
	}

	// Pin shard a open persistently.
	if _, err := tbl.Select(ctx, Select{Shards: []string{"a"}, Persistent: true}); err != nil {
		t.Fatalf("Select a persistent: %v", err)
	}

	// With the cache full of pinned shard a, a query against shard b must
	// suspend on the cache gate.
	done := make(chan error, 1)
	go func() {
		_, err := tbl.Select(ctx, Select{Shards: []string{"b"}})
		done <- err
	}()
	select {
	case err := <-done:
		t.Fatalf("select of shard b completed despite the persistent pin (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Clearing the pin releases the gate.
	if _, err := tbl.Select(ctx, Select{Shards: []string{"a"}, Persistent: false}); err != nil {
		t.Fatalf("Select a non-persistent: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("select of shard b after unpin: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("select of shard b still blocked after the pin was cleared")
	}
}

func TestCreateRejectsUniqueIndex(t *testing.T) {
	tbl := openTestTable(t, DefaultOptions())
	err := tbl.Create(basictable.IndexSpec{Field: "v", Unique: true})
	if err == nil {
		t.Fatal("expected unique index to be rejected on a sharded table")
	}
}
