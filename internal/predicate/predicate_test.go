package predicate

import (
	"testing"

	"github.com/maruel/blockdb/internal/model"
)

func TestIDSetMatchAndPlannerAccess(t *testing.T) {
	p := IDSet([]int64{1, 3})
	if !p.Match(model.Record{"id": int64(1)}) {
		t.Fatal("id 1 should match")
	}
	if p.Match(model.Record{"id": int64(2)}) {
		t.Fatal("id 2 should not match")
	}
	if p.Match(model.Record{"v": 1}) {
		t.Fatal("record without id should not match")
	}
	ids, ok := AsIDSet(p)
	if !ok || len(ids) != 2 {
		t.Fatalf("AsIDSet = %v, %v", ids, ok)
	}
}

func TestIndexRangeBounds(t *testing.T) {
	p := IndexRange("score", 5.0, 9.0)
	for _, c := range []struct {
		v    any
		want bool
	}{
		{4.9, false},
		{5.0, true},
		{7.0, true},
		{9.0, true},
		{9.1, false},
	} {
		if got := p.Match(model.Record{"score": c.v}); got != c.want {
			t.Errorf("Match(score=%v) = %v, want %v", c.v, got, c.want)
		}
	}
	if p.Match(model.Record{"other": 7.0}) {
		t.Fatal("record without the field should not match")
	}
	// Unbounded sides.
	if !IndexRange("score", nil, 3.0).Match(model.Record{"score": -100.0}) {
		t.Fatal("nil lower bound should be unbounded")
	}
	if !IndexRange("score", 3.0, nil).Match(model.Record{"score": 100.0}) {
		t.Fatal("nil upper bound should be unbounded")
	}
}

func TestCombinators(t *testing.T) {
	even := Func(func(r model.Record) bool {
		v, _ := r["n"].(float64)
		return int(v)%2 == 0
	})
	small := IndexRange("n", nil, 10.0)
	rec := func(n float64) model.Record { return model.Record{"n": n} }

	if !And(even, small).Match(rec(4)) {
		t.Fatal("4 is even and small")
	}
	if And(even, small).Match(rec(12)) {
		t.Fatal("12 is not small")
	}
	if !Or(even, small).Match(rec(12)) {
		t.Fatal("12 is even")
	}
	if Or(even, small).Match(rec(13)) {
		t.Fatal("13 is neither")
	}
	if Not(even).Match(rec(4)) {
		t.Fatal("Not(even) should reject 4")
	}
	if !All().Match(rec(999)) {
		t.Fatal("All matches everything")
	}
}

func TestIndexRangeMixedIntFloat(t *testing.T) {
	// In-memory rows can carry int64 values that never round-tripped
	// through JSON; comparison still works against float bounds.
	p := IndexRange("n", 5.0, 9.0)
	if !p.Match(model.Record{"n": int64(7)}) {
		t.Fatal("int64 7 should fall inside [5,9]")
	}
	if p.Match(model.Record{"n": int64(11)}) {
		t.Fatal("int64 11 should fall outside [5,9]")
	}
}
