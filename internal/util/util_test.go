package util

import (
	"reflect"
	"testing"
)

func TestDeepCloneIsStructural(t *testing.T) {
	src := map[string]any{
		"s": "text",
		"n": 3.5,
		"l": []any{1.0, "two", map[string]any{"k": "v"}},
		"m": map[string]any{"inner": []any{true}},
	}
	got := DeepClone(src).(map[string]any)
	if !reflect.DeepEqual(got, src) {
		t.Fatalf("clone differs from source: %v vs %v", got, src)
	}
	got["m"].(map[string]any)["inner"].([]any)[0] = false
	if src["m"].(map[string]any)["inner"].([]any)[0] != true {
		t.Fatal("mutating the clone leaked into the source")
	}
}

func TestDeflateInflateRoundTrip(t *testing.T) {
	data := []byte(`[[1,{"name":"a"}],[2,{"name":"b"}]]`)
	for _, level := range []int{0, 1, 9} {
		compressed, err := Deflate(data, level)
		if err != nil {
			t.Fatalf("Deflate(level=%d): %v", level, err)
		}
		out, err := Inflate(compressed)
		if err != nil {
			t.Fatalf("Inflate(level=%d): %v", level, err)
		}
		if string(out) != string(data) {
			t.Fatalf("level %d round trip mismatch", level)
		}
	}
}

func TestEsc(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{`plain`, `"plain"`},
		{`with "quotes"`, `"with \"quotes\""`},
		{3.5, `3.5`},
		{true, `true`},
		{nil, `null`},
		{[]any{"a", 1.0, nil}, `["a",1,null]`},
	}
	for _, c := range cases {
		if got := Esc(c.in); got != c.want {
			t.Errorf("Esc(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}
