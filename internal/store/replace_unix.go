//go:build !windows

package store

import (
	"os"
	"path/filepath"
)

// replaceFile renames tmpPath over finalPath, then syncs the parent directory so a
// summary written at the end of a run survives a crash of the host.
func replaceFile(tmpPath, finalPath string) error {
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}
	dir, err := os.Open(filepath.Dir(finalPath))
	if err != nil {
		return nil
	}
	_ = dir.Sync()
	return dir.Close()
}
