package basictable

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
)

func TestInsertSelectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close()

	for i := 0; i < 10; i++ {
		if _, err := tbl.Insert(model.Record{"n": i}, InsertDefault); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	rows, err := tbl.Select(context.Background(), query.Select{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("got %d rows, want 10", len(rows))
	}
}

func TestInsertIgnoreSkipsExistingID(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	id, err := tbl.Insert(model.Record{"v": "a"}, InsertDefault)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tbl.Insert(model.Record{"id": id, "v": "b"}, InsertIgnore)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Fatalf("InsertIgnore returned %d, want %d", got, id)
	}
	rows, _ := tbl.Select(context.Background(), query.Select{})
	if len(rows) != 1 || rows[0]["v"] != "a" {
		t.Fatalf("ignored insert should not have overwritten the row: %v", rows)
	}
}

func TestDeleteThenReopenDoesNotResurrectRow(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := tbl.Insert(model.Record{"v": 1}, InsertDefault)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Delete(predicate.IDSet([]int64{id})); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}

	tbl2, err := Open(dir, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl2.Close()
	rows, err := tbl2.Select(context.Background(), query.Select{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("deleted row resurrected after reopen: %v", rows)
	}
}

func TestBlockRollAndAutoRepairAfterCorruptJournal(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.BlockSize = 200
	tbl, err := Open(dir, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if _, err := tbl.Insert(model.Record{"v": "xxxxxxxxxx", "n": i}, InsertDefault); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}

	blocks, err := filepath.Glob(filepath.Join(dir, "*.jem"))
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) < 5 {
		t.Fatalf("expected at least 5 block files with a 200-byte ceiling, got %d", len(blocks))
	}

	// Simulate a crash mid-append: a partial record at the journal tail.
	f, err := os.OpenFile(filepath.Join(dir, "blockindex.1"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(",{")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	opts.AutoRepair = true
	tbl2, err := Open(dir, opts, nil)
	if err != nil {
		t.Fatalf("reopen with AutoRepair: %v", err)
	}
	defer tbl2.Close()
	rows, err := tbl2.Select(context.Background(), query.Select{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 50 {
		t.Fatalf("got %d rows after repair, want 50", len(rows))
	}
}

func TestRangeIndexNarrowsSelect(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()
	if err := tbl.Create(IndexSpec{Field: "score", Kind: RangeIndex}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if _, err := tbl.Insert(model.Record{"score": float64(i)}, InsertDefault); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := tbl.Select(context.Background(), query.Select{Where: predicate.IndexRange("score", 5.0, 9.0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows in [5,9], want 5", len(rows))
	}
}
