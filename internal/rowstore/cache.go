package rowstore

// unloadBlocksIfNeededLocked promotes newly loaded, now-saved blocks into
// the eviction-eligible FIFO list, then evicts from its head until
// loadedBlocksCount is satisfied. The current block and any block whose
// index is at or beyond lastSavedBlockIndex are never evicted. Caller
// holds e.mu.
func (e *Engine) unloadBlocksIfNeededLocked() {
	var stillNew []uint64
	for _, idx := range e.newBlocks {
		if idx < e.lastSavedBlockIndex {
			e.loadedBlocks = append(e.loadedBlocks, idx)
		} else {
			stillNew = append(stillNew, idx)
		}
	}
	e.newBlocks = stillNew

	for len(e.loadedBlocks) > e.opts.LoadedBlocksCount {
		idx := e.loadedBlocks[0]
		e.loadedBlocks = e.loadedBlocks[1:]
		if idx == e.currentBlockIndex || idx >= e.lastSavedBlockIndex {
			continue
		}
		if b, ok := e.blocks[idx]; ok {
			b.rows = nil
		}
	}
}
