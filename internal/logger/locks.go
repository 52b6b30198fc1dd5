package logger

import (
	"os"
	"path/filepath"
	"strings"
)

// maxLockScanDepth bounds the recursive lock-file sweep so a pathological
// or symlink-looped log root can't send us into an unbounded walk. 16
// mirrors the depth bound the original recorder passed to its ftw(3) walk.
const maxLockScanDepth = 16

// ClearLocks removes every file under root ending in ".lock", depth-first,
// to a maximum depth of maxLockScanDepth. It is run once at startup (spec
// §6) to clean up after a process that crashed mid-segment; leftover
// partial segments themselves are left in place.
func ClearLocks(root string) error {
	return clearLocksAt(root, 0)
}

func clearLocksAt(dir string, depth int) error {
	if depth > maxLockScanDepth {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := clearLocksAt(path, depth+1); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".lock") {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
