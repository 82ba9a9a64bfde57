package rowstore

import (
	"encoding/json"
	"os"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/xerrors"
)

// CommitDelta flushes the named delta step to disk: defragmentation, then
// journal appends, then finalization, eviction and summary-dump passes.
// Any I/O error sets a sticky fileError and flips the table's on-disk
// state sentinel so the next open takes the repair path.
func (e *Engine) CommitDelta(deltaStep int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.pendingDeltas[deltaStep]
	if !ok {
		return nil
	}

	if e.destroyed {
		return xerrors.NotFound(xerrors.ErrTableNotOpen, "commit rejected, engine destroyed")
	}

	if e.fileError != nil {
		return xerrors.System("commit rejected, engine has sticky file error", e.fileError)
	}

	delFiles, err := e.defragmentLocked(d)
	if err != nil {
		return e.failLocked(err)
	}

	var lastSavedBI uint64
	haveLastSaved := false
	for _, r := range d.blockRows {
		if !haveLastSaved || r.BlockIndex > lastSavedBI {
			lastSavedBI = r.BlockIndex
			haveLastSaved = true
		}
	}

	if err := appendBlockIndexJournal(e.dir, d.blockIndex); err != nil {
		return e.failLocked(err)
	}
	if err := appendBlockListJournal(e.dir, d.blockList); err != nil {
		return e.failLocked(err)
	}
	if err := e.appendBlockRowsGroupedLocked(d.blockRows); err != nil {
		return e.failLocked(err)
	}

	if haveLastSaved && lastSavedBI > e.lastSavedBlockIndex {
		e.lastSavedBlockIndex = lastSavedBI
	}

	if err := e.finalizeBlocksLocked(); err != nil {
		return e.failLocked(err)
	}

	e.unloadBlocksIfNeededLocked()

	if err := e.dumpMapsLocked(); err != nil {
		return e.failLocked(err)
	}

	for _, path := range delFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("rowstore: failed to unlink defragmented block file", "path", path, "err", err)
		}
	}

	// A failed commit leaves the delta pending so the partial journal state
	// is still attributable to its step; only a clean commit retires it.
	delete(e.pendingDeltas, deltaStep)
	return nil
}

// appendBlockRowsGroupedLocked writes deltaBlockRows to disk, opening a new
// rows-journal append for each maximal run of entries sharing a block
// index, so one file is open at a time and appends stay ordered.
func (e *Engine) appendBlockRowsGroupedLocked(entries []rowEntry) error {
	i := 0
	for i < len(entries) {
		j := i + 1
		for j < len(entries) && entries[j].BlockIndex == entries[i].BlockIndex {
			j++
		}
		if err := appendBlockRowsJournal(e.dir, entries[i].BlockIndex, entries[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// failLocked records a sticky file error and flips the on-disk state
// sentinel so the next open takes the repair path. Caller holds e.mu.
func (e *Engine) failLocked(err error) error {
	e.fileError = err
	if werr := os.WriteFile(stateFilePath(e.dir), []byte("0"), 0o644); werr != nil {
		e.logger.Error("rowstore: failed to flip state sentinel after commit error", "err", werr)
	}
	return xerrors.System("commit failed", err)
}

func stateFilePath(dir string) string { return dir + "/state" }

// defragmentLocked rewrites live rows out of candidate blocks into the
// current block, within the same delta being committed, and returns the
// paths of now-empty block files to unlink once the journal append
// succeeds. Caller holds e.mu.
func (e *Engine) defragmentLocked(d *delta) ([]string, error) {
	if len(e.blockSetDefrag) == 0 {
		return nil, nil
	}
	var picked []uint64
	for idx := range e.blockSetDefrag {
		if idx == e.currentBlockIndex {
			continue
		}
		m := e.blockList[idx]
		if m == nil {
			continue
		}
		if (m.DelCount > 0 && float64(m.AddCount-m.DelCount) < float64(m.RowsLength)*0.6) ||
			m.Size < e.opts.BlockCeiling/2 {
			picked = append(picked, idx)
		}
	}

	var delFiles []string
	for _, idx := range picked {
		b, err := e.pageInLocked(idx)
		if err != nil {
			return nil, err
		}
		for id, rec := range b.rows {
			if e.blockIndex[id] != idx {
				continue // already moved or deleted
			}
			if err := e.rewriteRowLocked(id, rec, d); err != nil {
				return nil, err
			}
		}
		delete(e.blockList, idx)
		delete(e.blocks, idx)
		delete(e.blocksNotFinalized, idx)
		d.blockList = append(d.blockList, listEntry{Index: idx, Deleted: true})
		delFiles = append(delFiles, blockPath(e.dir, idx))
	}
	e.blockSetDefrag = map[uint64]bool{}
	return delFiles, nil
}

// rewriteRowLocked re-homes a surviving row into the current block as part
// of defragmentation, appending to d exactly as Set would. Caller holds
// e.mu.
func (e *Engine) rewriteRowLocked(id int64, rec model.Record, d *delta) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	cur := e.currentBlockIndex
	if cur == 0 {
		cur = 1
		e.currentBlockIndex = 1
	}
	curMeta := e.blockList[cur]
	if curMeta == nil {
		curMeta = &blockMeta{Index: cur}
		e.blockList[cur] = curMeta
		e.blocks[cur] = &block{meta: *curMeta, rows: map[int64]model.Record{}}
		e.blocksNotFinalized[cur] = true
	}
	if curMeta.RowsLength > 0 && curMeta.Size+len(encoded) > e.opts.BlockCeiling {
		cur++
		e.currentBlockIndex = cur
		curMeta = &blockMeta{Index: cur}
		e.blockList[cur] = curMeta
		e.blocks[cur] = &block{meta: *curMeta, rows: map[int64]model.Record{}}
		e.blocksNotFinalized[cur] = true
	}
	b := e.blocks[cur]
	if b.rows == nil {
		loaded, err := e.pageInLocked(cur)
		if err != nil {
			return err
		}
		b = loaded
	}
	b.rows[id] = rec
	curMeta.RowsLength = len(b.rows)
	curMeta.Size += len(encoded)
	curMeta.AddCount++
	e.blockIndex[id] = cur
	d.blockIndex = append(d.blockIndex, indexEntry{ID: id, Index: cur})
	d.blockList = append(d.blockList, listEntry{Index: cur, Meta: curMeta.clone()})
	d.blockRows = append(d.blockRows, rowEntry{BlockIndex: cur, ID: id, Record: rec})
	return nil
}
