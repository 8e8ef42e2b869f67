// Package snapshotfile is a minimal atomic-blob writer/reader standing
// in for the host database's snapshot writer. A whole-blob replacement
// has to be atomic with respect to a concurrent reader, so writes go
// through a temp file, fdatasync, and a same-directory rename.
package snapshotfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Write atomically replaces the file at path with data: it writes to a
// temp file in the same directory, fdatasyncs it, then renames it over
// path (rename is atomic on the same filesystem).
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshotfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshotfile: write: %w", err)
	}
	if err := unix.Fdatasync(int(tmp.Fd())); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshotfile: fdatasync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshotfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("snapshotfile: rename: %w", err)
	}
	return nil
}

// Read returns the full contents of the snapshot file at path. It reports
// os.IsNotExist(err) for a collection/database that has never been
// snapshotted, which callers (vectorcore.Open) treat as "start empty".
func Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}
