//go:build windows

package store

import "golang.org/x/sys/windows"

// replaceFile renames tmpPath over finalPath. os.Rename refuses to replace an open
// target on Windows, MoveFileEx with REPLACE_EXISTING does not.
func replaceFile(tmpPath, finalPath string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(finalPath)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}
