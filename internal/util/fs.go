package util

import "os"

// PathExists reports whether path exists, swallowing the "not exist" case
// and treating any other stat failure as non-existence too — callers that
// need to distinguish a permissions error from absence should call
// os.Stat directly.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
