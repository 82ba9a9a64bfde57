package util

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Esc renders value as a literal suitable for embedding in a diagnostic
// expression string: strings are JSON-quoted/escaped, slices become
// bracketed literal lists, everything else falls back to its JSON form.
// With query predicates expressed as a typed AST (internal/predicate)
// rather than source text, the escaping is not load-bearing for
// correctness. The monitoring table's query snapshot does not use it; that
// snapshot is built from the method and table name.
func Esc(value any) string {
	switch v := value.(type) {
	case string:
		b, err := json.Marshal(v)
		if err != nil {
			return strconv.Quote(v)
		}
		return string(b)
	case []any:
		out := "["
		for i, item := range v {
			if i > 0 {
				out += ","
			}
			out += Esc(item)
		}
		return out + "]"
	case nil:
		return "null"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
