//go:build !windows

package sqlite

import (
	"io/fs"
	"syscall"
)

// fileInode extracts the inode from a FileInfo on platforms where
// os.FileInfo.Sys() is a *syscall.Stat_t. Returns 0 if unavailable.
func fileInode(info fs.FileInfo) uint64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return stat.Ino
}
