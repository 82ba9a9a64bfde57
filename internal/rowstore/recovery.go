package rowstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maruel/blockdb/internal/blockio"
	"github.com/maruel/blockdb/internal/xerrors"
)

// Load recovers engine state from blockindex.0/.1 and blocklist.0/.1 and
// returns the autoincrement seed (max observed id + 1). It requires both
// journals to be well-formed; use LoadCorrupted when the table was marked
// corrupted.
func (e *Engine) Load() (int64, error) {
	return e.load(false)
}

// LoadCorrupted is the repair-path recovery: it tolerates truncated
// journals and, after reading what it can, rescans the directory for
// orphan block files so the table can be rebuilt from them.
func (e *Engine) LoadCorrupted() (int64, error) {
	seed, err := e.load(true)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.registerOrphanBlocksLocked(); err != nil {
		return 0, err
	}
	return seed, nil
}

func (e *Engine) load(allowCorrupted bool) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var maxID int64 = -1

	summary, err := blockio.ReadFinalized(blockIndexSummaryPath(e.dir))
	if err != nil {
		return 0, xerrors.Data("decode journal record", err)
	}
	for _, raw := range summary {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return 0, xerrors.Data("decode journal record", err)
		}
		var id int64
		var idx uint64
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return 0, xerrors.Data("decode journal record", err)
		}
		if err := json.Unmarshal(pair[1], &idx); err != nil {
			return 0, xerrors.Data("decode journal record", err)
		}
		e.blockIndex[id] = idx
		if id > maxID {
			maxID = id
		}
	}
	journal, err := blockio.ReadJournal(blockIndexJournalPath(e.dir), allowCorrupted)
	if err != nil {
		return 0, xerrors.Data("decode journal record", err)
	}
	for _, raw := range journal {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			if allowCorrupted {
				continue
			}
			return 0, xerrors.Data("decode journal record", err)
		}
		var id int64
		var idx uint64
		if err := json.Unmarshal(pair[0], &id); err != nil {
			continue
		}
		if err := json.Unmarshal(pair[1], &idx); err != nil {
			continue
		}
		if idx == 0 {
			delete(e.blockIndex, id)
		} else {
			e.blockIndex[id] = idx
		}
		if id > maxID {
			maxID = id
		}
	}

	if err := e.loadBlockListLocked(allowCorrupted); err != nil {
		return 0, err
	}

	var current uint64
	haveBlocks := false
	for idx := range e.blockList {
		if !haveBlocks || idx > current {
			current = idx
			haveBlocks = true
		}
	}
	e.currentBlockIndex = current
	e.lastSavedBlockIndex = current

	if haveBlocks {
		rows, err := loadBlockRows(e.dir, current)
		if err != nil {
			return 0, xerrors.System("load current block", err)
		}
		e.blocks[current] = &block{meta: *e.blockList[current], rows: rows}
	}

	e.blocksNotFinalized = map[uint64]bool{}
	e.blockSetDefrag = map[uint64]bool{}
	for idx, m := range e.blockList {
		if !m.Final {
			e.blocksNotFinalized[idx] = true
		}
		e.blockSetDefrag[idx] = true
	}

	return maxID + 1, nil
}

type listRecord struct {
	Index   uint64
	Meta    blockMeta
	Deleted bool
}

func decodeListRecord(raw json.RawMessage) (listRecord, error) {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return listRecord{}, err
	}
	var idx uint64
	if err := json.Unmarshal(pair[0], &idx); err != nil {
		return listRecord{}, err
	}
	var probe struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.Unmarshal(pair[1], &probe); err != nil {
		return listRecord{}, err
	}
	if probe.Deleted {
		return listRecord{Index: idx, Deleted: true}, nil
	}
	var m blockMeta
	if err := json.Unmarshal(pair[1], &m); err != nil {
		return listRecord{}, err
	}
	m.Index = idx
	return listRecord{Index: idx, Meta: m}, nil
}

func (e *Engine) loadBlockListLocked(allowCorrupted bool) error {
	summary, err := blockio.ReadFinalized(blockListSummaryPath(e.dir))
	if err != nil {
		return xerrors.Data("decode journal record", err)
	}
	for _, raw := range summary {
		rec, err := decodeListRecord(raw)
		if err != nil {
			return xerrors.Data("decode journal record", err)
		}
		if rec.Deleted {
			delete(e.blockList, rec.Index)
			continue
		}
		m := rec.Meta
		e.blockList[rec.Index] = &m
	}
	journal, err := blockio.ReadJournal(blockListJournalPath(e.dir), allowCorrupted)
	if err != nil {
		return xerrors.Data("decode journal record", err)
	}
	for _, raw := range journal {
		rec, err := decodeListRecord(raw)
		if err != nil {
			if allowCorrupted {
				continue
			}
			return xerrors.Data("decode journal record", err)
		}
		if rec.Deleted {
			delete(e.blockList, rec.Index)
			continue
		}
		m := rec.Meta
		e.blockList[rec.Index] = &m
	}
	return nil
}

// registerOrphanBlocksLocked scans the table directory for .jem files with
// no corresponding blockList entry and registers them as unfinalized
// blocks of unknown size, so a later pass can rebuild counts by re-reading
// them. Caller holds e.mu.
func (e *Engine) registerOrphanBlocksLocked() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return xerrors.System("scan table directory", err)
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".jem") {
			continue
		}
		digits := strings.TrimSuffix(ent.Name(), ".jem")
		idx, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			continue
		}
		if _, ok := e.blockList[idx]; ok {
			continue
		}
		rows, err := loadBlockRows(e.dir, idx)
		if err != nil {
			e.logger.Warn("rowstore: skipping unreadable orphan block", "path", filepath.Join(e.dir, ent.Name()), "err", err)
			continue
		}
		m := &blockMeta{Index: idx, RowsLength: len(rows), Final: false}
		e.blockList[idx] = m
		e.blocksNotFinalized[idx] = true
		e.blockSetDefrag[idx] = true
		if idx > e.currentBlockIndex {
			e.currentBlockIndex = idx
			e.lastSavedBlockIndex = idx
		}
		for id := range rows {
			if _, ok := e.blockIndex[id]; !ok {
				e.blockIndex[id] = idx
			}
		}
	}
	return nil
}
