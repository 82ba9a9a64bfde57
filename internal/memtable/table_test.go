package memtable

import (
	"testing"

	"github.com/maruel/blockdb/internal/basictable"
	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/query"
)

func TestMemtableDoesNotPersistAcrossClose(t *testing.T) {
	tbl := Open()
	if _, err := tbl.Insert(model.Record{"v": 1}, basictable.InsertDefault); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}
	tbl2 := Open()
	rows, err := tbl2.Select(query.Select{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("fresh memory table should start empty, got %v", rows)
	}
}

func TestMemtableUpdateDelete(t *testing.T) {
	tbl := Open()
	id, err := tbl.Insert(model.Record{"v": 1}, basictable.InsertDefault)
	if err != nil {
		t.Fatal(err)
	}
	n, err := tbl.Update(query.Mutation{Apply: func(r model.Record) model.Record {
		r["v"] = 2
		return r
	}})
	if err != nil || n != 1 {
		t.Fatalf("Update: n=%d err=%v", n, err)
	}
	rows, _ := tbl.Select(query.Select{})
	if rows[0]["v"] != 2 {
		t.Fatalf("update did not apply: %v", rows)
	}
	if n, err := tbl.Delete(nil); err != nil || n != 1 {
		t.Fatalf("Delete: n=%d err=%v", n, err)
	}
	if tbl.rows[id] != nil {
		t.Fatal("row should be gone")
	}
}
