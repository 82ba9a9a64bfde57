package rowstore

import (
	"encoding/json"
	"os"

	"github.com/maruel/blockdb/internal/blockio"
)

// dumpMapsLocked compacts blockindex.1/blocklist.1 into their .0 summary
// counterparts once the journal has grown enough to make replaying it on
// every open wasteful. Caller holds e.mu.
func (e *Engine) dumpMapsLocked() error {
	if e.shouldDumpLocked(blockIndexJournalPath(e.dir), blockIndexSummaryPath(e.dir)) {
		values := make([]json.RawMessage, 0, len(e.blockIndex))
		for id, idx := range e.blockIndex {
			v, err := json.Marshal([2]any{id, idx})
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		if err := dumpSummary(blockIndexSummaryPath(e.dir), blockIndexJournalPath(e.dir), values); err != nil {
			return err
		}
	}
	if e.shouldDumpLocked(blockListJournalPath(e.dir), blockListSummaryPath(e.dir)) {
		values := make([]json.RawMessage, 0, len(e.blockList))
		for idx, m := range e.blockList {
			v, err := json.Marshal([2]any{idx, m})
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		if err := dumpSummary(blockListSummaryPath(e.dir), blockListJournalPath(e.dir), values); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) shouldDumpLocked(journalPath, summaryPath string) bool {
	jInfo, err := os.Stat(journalPath)
	if err != nil {
		return false
	}
	jSize := jInfo.Size()
	if jSize >= int64(e.opts.SummaryMaxSize) {
		return true
	}
	if jSize < int64(e.opts.SummaryMinSize) {
		return false
	}
	sInfo, err := os.Stat(summaryPath)
	if err != nil {
		// No summary yet; any journal past the minimum is worth compacting.
		return true
	}
	return jSize > sInfo.Size()
}

// dumpSummary writes values as the new finalized summary file (uncompressed;
// summaries are read on every open and compression would cost more CPU
// than the space it saves for index/list metadata), then removes the
// journal it superseded.
func dumpSummary(summaryPath, journalPath string, values []json.RawMessage) error {
	if err := blockio.WriteFinalized(summaryPath, values, 0); err != nil {
		return err
	}
	if err := os.Remove(journalPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
