package rowstore

// finalizeBlocksLocked rewrites every unfinalized block whose index is
// below lastSavedBlockIndex into a self-contained finalized file (plain or
// DEFLATE-compressed), and queues each as a fresh defrag candidate. Caller
// holds e.mu.
func (e *Engine) finalizeBlocksLocked() error {
	var candidates []uint64
	for idx := range e.blocksNotFinalized {
		if idx < e.lastSavedBlockIndex {
			candidates = append(candidates, idx)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var updated []listEntry
	for _, idx := range candidates {
		if e.destroyed {
			break
		}
		b, err := e.pageInLocked(idx)
		if err != nil {
			return err
		}
		size, err := writeBlockRowsFinalized(e.dir, idx, b.rows, e.opts.CompressLevel)
		if err != nil {
			return err
		}
		m := e.blockList[idx]
		if m == nil {
			m = &blockMeta{Index: idx}
			e.blockList[idx] = m
		}
		m.Size = size
		m.RowsLength = len(b.rows)
		m.Final = true
		delete(e.blocksNotFinalized, idx)
		e.blockSetDefrag[idx] = true
		updated = append(updated, listEntry{Index: idx, Meta: m.clone()})
	}
	return appendBlockListJournal(e.dir, updated)
}
