package blockio

import "fmt"

// widthThreshold is the block index at which file names switch from 6 to
// 12 zero-padded digits, so directory
// listings keep sorting lexicographically however large the table grows.
const widthThreshold = 1_000_000

// BlockFileName returns the on-disk file name for a block's rows file.
func BlockFileName(index uint64) string {
	if index < widthThreshold {
		return fmt.Sprintf("%06d.jem", index)
	}
	return fmt.Sprintf("%012d.jem", index)
}
