// Package rowstore implements the row storage engine every table type
// builds on: append-only block files, a per-delta-step journal,
// finalization, defragmentation, and a bounded in-memory block cache.
package rowstore

import "github.com/maruel/blockdb/internal/model"

// blockMeta is one blockList record: everything about a block except its
// row contents.
type blockMeta struct {
	Index      uint64 `json:"index"`
	Size       int    `json:"size"`
	RowsLength int    `json:"rowsLength"`
	Final      bool   `json:"final"`
	DelCount   int    `json:"delCount"`
	AddCount   int    `json:"addCount"`
}

func (m blockMeta) clone() blockMeta { return m }

// block is a blockMeta plus its row contents, when loaded.
type block struct {
	meta blockMeta
	rows map[int64]model.Record // nil when unloaded
}

// indexEntry is one blockindex journal record: id -> block index, where
// index 0 means "id removed from the index".
type indexEntry struct {
	ID    int64  `json:"id"`
	Index uint64 `json:"index"`
}

// listEntry is one blocklist journal record.
type listEntry struct {
	Index   uint64 `json:"index"`
	Meta    blockMeta
	Deleted bool
}

// rowEntry is one per-block rows record: a live row written during the
// current delta.
type rowEntry struct {
	BlockIndex uint64
	ID         int64
	Record     model.Record
}

// delta accumulates everything one deltaStep has done, pending commitDelta
// or cancelDelta.
type delta struct {
	step       int
	blockIndex []indexEntry
	blockList  []listEntry
	blockRows  []rowEntry
}

func newDelta(step int) *delta {
	return &delta{step: step}
}

// Options configures an Engine. The zero value is not usable; use
// DefaultOptions.
type Options struct {
	// BlockCeiling is the approximate encoded-size threshold (bytes) at
	// which a block rolls over to a new current block.
	BlockCeiling int
	// CompressLevel, when > 0, finalizes blocks with DEFLATE at this level
	// (1-9); 0 writes plain finalized JSON.
	CompressLevel int
	// LoadedBlocksCount bounds how many blocks may hold rows in memory at
	// once (not counting the current block, which is never evicted).
	LoadedBlocksCount int
	// SummaryMinSize/SummaryMaxSize gate when a journal's compacted summary
	// (.0) is re-dumped.
	SummaryMinSize int
	SummaryMaxSize int
}

// DefaultOptions returns the engine defaults used when a table does not
// override them.
func DefaultOptions() Options {
	return Options{
		BlockCeiling:      1 << 20, // 1 MiB
		CompressLevel:     0,
		LoadedBlocksCount: 5,
		SummaryMinSize:    64 * 1024,
		SummaryMaxSize:    4 << 20,
	}
}
