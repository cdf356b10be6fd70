//go:build windows

package sqlite

import "io/fs"

// fileInode has no cheap equivalent on Windows; Freshness falls back to
// mtime-only detection there.
func fileInode(info fs.FileInfo) uint64 { return 0 }
