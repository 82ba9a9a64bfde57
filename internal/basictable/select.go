package basictable

import (
	"context"
	"sort"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/predicate"
	"github.com/maruel/blockdb/internal/query"
)

// Select runs q against the table. When Where is itself an IDSet node its
// ids are the candidates, and when it is an IndexRange node over a
// range-indexed field the candidates come from that index; any other
// predicate, including an And that wraps one of these, scans every id.
// Match is always run again over the candidates, since an IDSet can name
// ids that do not exist.
func (t *Table) Select(ctx context.Context, q query.Select) ([]model.Record, error) {
	t.mu.Lock()
	if err := t.checkOpenLocked(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	candidates := t.candidateIdsLocked(q.Where)
	t.mu.Unlock()

	where := q.Where
	if where == nil {
		where = predicate.All()
	}

	var out []model.Record
	for _, id := range candidates {
		rec, ok, err := t.engine.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || !where.Match(rec) {
			continue
		}
		out = append(out, rec)
	}

	if q.Sort != nil {
		sort.SliceStable(out, func(i, j int) bool { return q.Sort(out[i], out[j]) })
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			out = nil
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if q.Map != nil {
		for i, r := range out {
			out[i] = q.Map(r)
		}
	}
	return out, nil
}

// candidateIdsLocked narrows the scan to an indexed candidate set when
// possible, falling back to every id in the table. Caller holds t.mu.
func (t *Table) candidateIdsLocked(where predicate.Predicate) []int64 {
	if where == nil {
		return t.engine.IterateIds()
	}
	if ids, ok := predicate.AsIDSet(where); ok {
		return ids
	}
	if field, lo, hi, ok := predicate.AsIndexRange(where); ok {
		if ix, found := t.indexes[field]; found && ix.spec.Kind == RangeIndex {
			return ix.rangeLookup(lo, hi)
		}
	}
	return t.engine.IterateIds()
}
