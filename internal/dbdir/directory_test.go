package dbdir

import (
	"context"
	"testing"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/query"
)

func openTestDir(t *testing.T) *Directory {
	t.Helper()
	dir := t.TempDir()
	d, err := Open(Options{DBPath: dir, Create: true}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCreateInsertSelect(t *testing.T) {
	d := openTestDir(t)
	ctx := context.Background()
	if err := d.Create(ctx, "people", DefaultTableOptions()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, name := range []string{"ann", "bob"} {
		if _, err := d.Insert("people", model.Record{"name": name}, InsertOptions{Mode: basictable.InsertDefault}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	rows, err := d.Select(ctx, "people", query.Select{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestCreateAlreadyExists(t *testing.T) {
	d := openTestDir(t)
	ctx := context.Background()
	if err := d.Create(ctx, "t", DefaultTableOptions()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := d.Create(ctx, "t", DefaultTableOptions()); err == nil {
		t.Fatal("expected ErrTableAlreadyExists")
	}
}

func TestDropRemovesTable(t *testing.T) {
	d := openTestDir(t)
	ctx := context.Background()
	if err := d.Create(ctx, "t", DefaultTableOptions()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := d.Drop(ctx, "t"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if d.TableExists("t") {
		t.Fatal("table should not exist after Drop")
	}
}

func TestTruncateEmptiesTable(t *testing.T) {
	d := openTestDir(t)
	ctx := context.Background()
	if err := d.Create(ctx, "t", DefaultTableOptions()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := d.Insert("t", model.Record{"v": 1}, InsertOptions{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := d.Truncate(ctx, "t", DefaultTableOptions()); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	rows, err := d.Select(ctx, "t", query.Select{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows after truncate, want 0", len(rows))
	}
}

func TestJoinByIdAttachesMatch(t *testing.T) {
	d := openTestDir(t)
	ctx := context.Background()
	if err := d.Create(ctx, "authors", DefaultTableOptions()); err != nil {
		t.Fatalf("Create authors: %v", err)
	}
	if err := d.Create(ctx, "books", DefaultTableOptions()); err != nil {
		t.Fatalf("Create books: %v", err)
	}
	authorID, err := d.Insert("authors", model.Record{"name": "Ada"}, InsertOptions{})
	if err != nil {
		t.Fatalf("Insert author: %v", err)
	}
	if _, err := d.Insert("books", model.Record{"title": "Notes", "authorId": authorID}, InsertOptions{}); err != nil {
		t.Fatalf("Insert book: %v", err)
	}

	rows, err := d.Select(ctx, "books", query.Select{
		Join: &query.Join{Table: "authors", KeyField: "authorId", TargetField: "author"},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	author, ok := rows[0]["author"].(model.Record)
	if !ok {
		t.Fatalf("joined author missing or wrong type: %v", rows[0]["author"])
	}
	if author["name"] != "Ada" {
		t.Fatalf("joined author name = %v, want Ada", author["name"])
	}
}

func TestMonitoringCapturesCalls(t *testing.T) {
	dir := t.TempDir()
	opts := Options{DBPath: dir, Create: true, Monitor: MonitorOptions{Enable: true, MaxQueryLength: 10}}
	d, err := Open(opts, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	if err := d.Create(ctx, "t", DefaultTableOptions()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := d.Insert("t", model.Record{"v": 1}, InsertOptions{}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := d.Select(ctx, "missing", query.Select{}); err == nil {
		t.Fatal("expected error selecting from missing table")
	}

	rows, err := d.monitor.Rows()
	if err != nil {
		t.Fatalf("monitor.Rows: %v", err)
	}
	sawOK, sawErr := false, false
	for _, r := range rows {
		method, _ := r["method"].(string)
		if method != "insert" && method != "select" {
			continue
		}
		te, _ := r["timeEnd"].(int64)
		tb, _ := r["timeBegin"].(int64)
		if te <= tb {
			t.Fatalf("timeEnd %d should be greater than timeBegin %d", te, tb)
		}
		if q, _ := r["query"].(string); len(q) > 10 {
			t.Fatalf("query %q exceeds MaxQueryLength", q)
		}
		if errMsg, _ := r["error"].(string); errMsg == "" {
			sawOK = true
		} else {
			sawErr = true
		}
	}
	if !sawOK || !sawErr {
		t.Fatalf("expected one ok and one error monitoring row, got ok=%v err=%v", sawOK, sawErr)
	}
}
