// Package blockio implements the one-byte-flag framing shared
// by every block-family file (blockindex.0/.1, blocklist.0/.1, and each
// <index>.jem block rows file). All of these files are, underneath the
// flag byte, a JSON array of elements — `[id,row]` pairs for a block rows
// file, `[id,blockIndex]` pairs for blockindex, `[index,meta]` pairs for
// blocklist. This package only knows about the framing and the array of
// raw JSON elements; callers decode each element into whatever shape is
// meaningful to them.
package blockio

// Flag is the one-byte file-format marker at offset 0 of every block-family
// file.
type Flag byte

const (
	// FlagJournal marks an append-only, comma-terminated journal: the body
	// after the flag byte is `[` followed by zero or more `elem,` entries.
	FlagJournal Flag = '0'
	// FlagFinal marks a finalized, self-contained plaintext JSON array:
	// `[elem,elem,...]`.
	FlagFinal Flag = '1'
	// FlagFinalCompressed marks a finalized array whose JSON bytes were
	// compressed with raw DEFLATE.
	FlagFinalCompressed Flag = '2'
)

func (f Flag) String() string {
	switch f {
	case FlagJournal:
		return "journal"
	case FlagFinal:
		return "final"
	case FlagFinalCompressed:
		return "final-compressed"
	default:
		return "unknown"
	}
}
