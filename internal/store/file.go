package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteFileAtomic writes b to path through a sibling temp file and a rename, so a
// client reading the path never observes a partially written script.
func WriteFileAtomic(path string, b []byte) error {
	return writeAtomic(path, b, 0o644)
}

// WriteScript writes an executable-free client script: the command line first,
// then the raw payload bytes untouched (binary payloads included).
func WriteScript(path string, command string, payload []byte) error {
	b := make([]byte, 0, len(command)+1+len(payload))
	b = append(b, command...)
	b = append(b, '\n')
	b = append(b, payload...)
	return writeAtomic(path, b, 0o600)
}

func writeAtomic(path string, b []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	if _, err := f.Write(b); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return replaceFile(tmp, path)
}
