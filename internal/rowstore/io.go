package rowstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/blockdb/internal/blockio"
	"github.com/maruel/blockdb/internal/model"
)

func blockPath(dir string, index uint64) string {
	return filepath.Join(dir, blockio.BlockFileName(index))
}

// loadBlockRows reads a block's rows file regardless of its finalization
// state (journal, final, or final-compressed) and decodes it into a map.
func loadBlockRows(dir string, index uint64) (map[int64]model.Record, error) {
	path := blockPath(dir, index)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]model.Record{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[int64]model.Record{}, nil
	}
	var elems []json.RawMessage
	switch blockio.Flag(data[0]) {
	case blockio.FlagJournal:
		elems, err = blockio.ReadJournal(path, true)
	default:
		elems, err = blockio.ReadFinalized(path)
	}
	if err != nil {
		return nil, err
	}
	return decodeRowPairs(elems)
}

func decodeRowPairs(elems []json.RawMessage) (map[int64]model.Record, error) {
	rows := make(map[int64]model.Record, len(elems))
	for _, raw := range elems {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("decode row pair: %w", err)
		}
		var id int64
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return nil, fmt.Errorf("decode row id: %w", err)
		}
		var rec model.Record
		if err := json.Unmarshal(pair[1], &rec); err != nil {
			return nil, fmt.Errorf("decode row record: %w", err)
		}
		rows[id] = rec
	}
	return rows, nil
}

func encodeRowPair(id int64, rec model.Record) (json.RawMessage, error) {
	return json.Marshal([2]any{id, rec})
}

// appendBlockRowsJournal appends the given (id,record) pairs, in order, to
// block index's rows journal file, opening it with the `0[` header if this
// is the first write.
func appendBlockRowsJournal(dir string, index uint64, entries []rowEntry) error {
	path := blockPath(dir, index)
	f, err := blockio.OpenJournalAppend(path)
	if err != nil {
		return err
	}
	defer f.Close()
	values := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		v, err := encodeRowPair(e.ID, e.Record)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	return blockio.AppendElements(f, values)
}

// writeBlockRowsFinalized finalizes a block's rows to disk, replacing
// whatever file (journal or previously finalized) existed for it.
func writeBlockRowsFinalized(dir string, index uint64, rows map[int64]model.Record, compressLevel int) (int, error) {
	path := blockPath(dir, index)
	values := make([]json.RawMessage, 0, len(rows))
	for id, rec := range rows {
		v, err := encodeRowPair(id, rec)
		if err != nil {
			return 0, err
		}
		values = append(values, v)
	}
	if err := blockio.WriteFinalized(path, values, compressLevel); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return int(info.Size()), nil
}

func blockIndexJournalPath(dir string) string { return filepath.Join(dir, "blockindex.1") }
func blockIndexSummaryPath(dir string) string { return filepath.Join(dir, "blockindex.0") }
func blockListJournalPath(dir string) string  { return filepath.Join(dir, "blocklist.1") }
func blockListSummaryPath(dir string) string  { return filepath.Join(dir, "blocklist.0") }

func appendBlockIndexJournal(dir string, entries []indexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	f, err := blockio.OpenJournalAppend(blockIndexJournalPath(dir))
	if err != nil {
		return err
	}
	defer f.Close()
	values := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		v, err := json.Marshal([2]any{e.ID, e.Index})
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	return blockio.AppendElements(f, values)
}

// appendBlockListJournal collapses consecutive entries for the same block
// index before appending; only the last state of a run matters on replay.
func appendBlockListJournal(dir string, entries []listEntry) error {
	if len(entries) == 0 {
		return nil
	}
	collapsed := make([]listEntry, 0, len(entries))
	for _, e := range entries {
		if n := len(collapsed); n > 0 && collapsed[n-1].Index == e.Index {
			collapsed[n-1] = e
			continue
		}
		collapsed = append(collapsed, e)
	}
	f, err := blockio.OpenJournalAppend(blockListJournalPath(dir))
	if err != nil {
		return err
	}
	defer f.Close()
	values := make([]json.RawMessage, 0, len(collapsed))
	for _, e := range collapsed {
		var v json.RawMessage
		var err error
		if e.Deleted {
			v, err = json.Marshal([2]any{e.Index, map[string]any{"deleted": true}})
		} else {
			v, err = json.Marshal([2]any{e.Index, e.Meta})
		}
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	return blockio.AppendElements(f, values)
}
