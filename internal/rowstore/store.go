package rowstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maruel/blockdb/internal/model"
	"github.com/maruel/blockdb/internal/xerrors"
)

// Engine is the row storage engine for one table directory. The zero value
// is not usable; use New then Load or LoadCorrupted.
type Engine struct {
	dir    string
	opts   Options
	logger *slog.Logger

	mu                  sync.Mutex
	blockIndex          map[int64]uint64 // id -> block index
	blockList           map[uint64]*blockMeta
	blocks              map[uint64]*block // loaded rows, keyed by block index
	currentBlockIndex   uint64
	lastSavedBlockIndex uint64
	blocksNotFinalized  map[uint64]bool
	blockSetDefrag      map[uint64]bool

	newBlocks    []uint64 // blocks loaded since the last cache sweep
	loadedBlocks []uint64 // blocks eligible for eviction, FIFO order

	pendingDeltas map[int]*delta

	destroyed bool
	fileError error
}

// New creates an empty engine rooted at dir. Call Load or LoadCorrupted
// before using it.
func New(dir string, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dir:                dir,
		opts:               opts,
		logger:             logger,
		blockIndex:         map[int64]uint64{},
		blockList:          map[uint64]*blockMeta{},
		blocks:             map[uint64]*block{},
		blocksNotFinalized: map[uint64]bool{},
		blockSetDefrag:     map[uint64]bool{},
		pendingDeltas:      map[int]*delta{},
	}
}

// FileError returns the sticky commit error, if any. Once set, the engine
// rejects further writes until reopened.
func (e *Engine) FileError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fileError
}

// Destroy marks the engine destroyed; in-flight background passes stop
// cleanly between blocks and no further commit is accepted.
func (e *Engine) Destroy() {
	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()
}

// Has reports whether id is present.
func (e *Engine) Has(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.blockIndex[id]
	return ok
}

// Get returns id's record, paging in its block if necessary.
func (e *Engine) Get(ctx context.Context, id int64) (model.Record, bool, error) {
	e.mu.Lock()
	bi, ok := e.blockIndex[id]
	if !ok {
		e.mu.Unlock()
		return nil, false, nil
	}
	b, err := e.pageInLocked(bi)
	if err != nil {
		e.mu.Unlock()
		return nil, false, err
	}
	row, ok := b.rows[id]
	e.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return model.Clone(row), true, nil
}

// IterateIds returns a snapshot of every id currently indexed. The whole
// index is resident anyway, so a materialized slice costs no more than a
// lazy sequence would and is safe to hold across mutations.
func (e *Engine) IterateIds() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int64, 0, len(e.blockIndex))
	for id := range e.blockIndex {
		ids = append(ids, id)
	}
	return ids
}

// Set records a mutation against deltaStep: if id already exists its prior
// block is marked for defrag and the old index entry tombstoned, then the
// row is appended to the current block (rolling to a new block first if
// encodedSize would exceed the ceiling).
func (e *Engine) Set(id int64, rec model.Record, encodedSize int, deltaStep int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fileError != nil {
		return xerrors.System("engine has sticky file error", e.fileError)
	}
	d := e.deltaLocked(deltaStep)

	if prevBI, ok := e.blockIndex[id]; ok {
		if m := e.blockList[prevBI]; m != nil {
			m.DelCount++
			e.blockSetDefrag[prevBI] = true
		}
		d.blockIndex = append(d.blockIndex, indexEntry{ID: id, Index: 0})
	}

	cur := e.currentBlockIndex
	if cur == 0 {
		// Block indexes are 1-based; 0 is the deletion tombstone in the
		// blockindex journal.
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
	if curMeta.RowsLength > 0 && curMeta.Size+encodedSize > e.opts.BlockCeiling {
		cur = cur + 1
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
	b.rows[id] = model.Clone(rec)
	curMeta.RowsLength = len(b.rows)
	curMeta.Size += encodedSize
	curMeta.AddCount++

	e.blockIndex[id] = cur
	d.blockIndex = append(d.blockIndex, indexEntry{ID: id, Index: cur})
	d.blockList = append(d.blockList, listEntry{Index: cur, Meta: curMeta.clone()})
	d.blockRows = append(d.blockRows, rowEntry{BlockIndex: cur, ID: id, Record: model.Clone(rec)})
	return nil
}

// Del records a deletion against deltaStep.
func (e *Engine) Del(id int64, deltaStep int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fileError != nil {
		return xerrors.System("engine has sticky file error", e.fileError)
	}
	bi, ok := e.blockIndex[id]
	if !ok {
		return nil
	}
	d := e.deltaLocked(deltaStep)
	if m := e.blockList[bi]; m != nil {
		m.DelCount++
		e.blockSetDefrag[bi] = true
		d.blockList = append(d.blockList, listEntry{Index: bi, Meta: m.clone()})
	}
	delete(e.blockIndex, id)
	d.blockIndex = append(d.blockIndex, indexEntry{ID: id, Index: 0})
	return nil
}

// CancelDelta discards a pending delta without any I/O. In-memory mutations
// already applied by Set/Del under that step are NOT rolled back — callers
// that need atomic rollback must not call Set/Del before they are certain
// the step will commit. Cancellation is a book-keeping operation, not a
// transaction abort.
func (e *Engine) CancelDelta(deltaStep int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pendingDeltas, deltaStep)
}

func (e *Engine) deltaLocked(step int) *delta {
	d, ok := e.pendingDeltas[step]
	if !ok {
		d = newDelta(step)
		e.pendingDeltas[step] = d
	}
	return d
}

// pageInLocked returns the requested block, loading its rows from disk if
// they are not already resident. Caller must hold e.mu.
func (e *Engine) pageInLocked(index uint64) (*block, error) {
	b, ok := e.blocks[index]
	if ok && b.rows != nil {
		return b, nil
	}
	meta := e.blockList[index]
	if meta == nil {
		return nil, xerrors.Data("page in block", fmt.Errorf("block %d not present in blockList", index))
	}
	rows, err := loadBlockRows(e.dir, index)
	if err != nil {
		return nil, xerrors.System(fmt.Sprintf("load block %d", index), err)
	}
	b = &block{meta: *meta, rows: rows}
	e.blocks[index] = b
	e.newBlocks = append(e.newBlocks, index)
	return b, nil
}
