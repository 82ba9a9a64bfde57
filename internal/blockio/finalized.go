package blockio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/blockdb/internal/util"
)

// ReadFinalized reads a flag-1 (plain) or flag-2 (DEFLATE-compressed)
// finalized block file and returns its elements in order. A missing file
// returns a nil slice with no error.
func ReadFinalized(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read finalized %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	flag := Flag(data[0])
	body := data[1:]
	switch flag {
	case FlagFinal:
		// body is as-is.
	case FlagFinalCompressed:
		body, err = util.Inflate(body)
		if err != nil {
			return nil, fmt.Errorf("read finalized %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("read finalized %s: unexpected flag %q", path, data[0])
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("read finalized %s: %w", path, err)
	}
	return elems, nil
}

// WriteFinalized marshals values to a JSON array and atomically replaces
// path with the result. compressLevel <= 0 writes a plain FlagFinal array;
// compressLevel > 0 DEFLATEs the array at that level and writes
// FlagFinalCompressed.
func WriteFinalized(path string, values []json.RawMessage, compressLevel int) error {
	if values == nil {
		values = []json.RawMessage{}
	}
	body, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("write finalized %s: %w", path, err)
	}

	flag := FlagFinal
	if compressLevel > 0 {
		compressed, err := util.Deflate(body, compressLevel)
		if err != nil {
			return fmt.Errorf("write finalized %s: %w", path, err)
		}
		body = compressed
		flag = FlagFinalCompressed
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(flag))
	out = append(out, body...)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write finalized %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write finalized %s: %w", path, err)
	}
	return nil
}

// RemoveAll removes every file under dir matching the given names, ignoring
// not-exist errors. Used when finalization replaces a journal with its
// finalized counterpart, or vice versa during recovery.
func RemoveAll(dir string, names ...string) error {
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
