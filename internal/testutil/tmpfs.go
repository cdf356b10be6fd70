// Package testutil holds scratch-filesystem helpers for tests that need
// an on-disk scratch directory.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TempDirInMemory creates a temporary directory that preferentially uses
// an in-memory filesystem (tmpfs/ramdisk) when available, to keep the
// SQLite/Dolt store tests' file I/O off spinning disks in CI.
//
// On Linux: uses /dev/shm if present. Elsewhere: falls back to
// os.TempDir(). The directory is removed automatically when the test
// ends.
func TempDirInMemory(t testing.TB) string {
	t.Helper()

	baseDir := os.TempDir()
	if runtime.GOOS == "linux" {
		if stat, err := os.Stat("/dev/shm"); err == nil && stat.IsDir() {
			tmpBase := filepath.Join("/dev/shm", "graphd-test")
			if err := os.MkdirAll(tmpBase, 0o755); err == nil {
				baseDir = tmpBase
			}
		}
	}

	tmpDir, err := os.MkdirTemp(baseDir, "graphd-test-*")
	if err != nil {
		t.Fatalf("testutil: create temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	return tmpDir
}
