package sqlite

import (
	"os"
	"sync"
	"time"
)

// Freshness monitors a Store's database file for external replacement
// (restore from backup, `cp` over the file) and triggers a reconnect so
// a long-lived connection never keeps serving a since-replaced file.
// Adapted from the teacher's FreshnessChecker: same inode/mtime
// detection, generalized from "a daemon's issue database" to "a
// keyspace's vertex store."
type Freshness struct {
	path string

	mu        sync.Mutex
	lastInode uint64
	lastMtime time.Time
	enabled   bool
	onStale   func() error
}

// NewFreshness starts tracking path's current file state. onStale is
// called, outside of Freshness's lock, whenever a replacement is
// detected.
func NewFreshness(path string, onStale func() error) *Freshness {
	f := &Freshness{path: path, enabled: true, onStale: onStale}
	f.captureState()
	return f
}

func (f *Freshness) captureState() {
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	f.lastMtime = info.ModTime()
	f.lastInode = fileInode(info)
}

// Check examines the file for replacement and triggers onStale if found.
// Returns true if replacement was detected.
func (f *Freshness) Check() bool {
	f.mu.Lock()
	if !f.enabled || f.path == "" {
		f.mu.Unlock()
		return false
	}

	info, err := os.Stat(f.path)
	if err != nil {
		f.mu.Unlock()
		return false
	}

	currentInode := fileInode(info)
	replaced := false
	if currentInode != 0 && f.lastInode != 0 {
		replaced = currentInode != f.lastInode
	} else {
		replaced = !info.ModTime().Equal(f.lastMtime)
	}

	if !replaced {
		f.mu.Unlock()
		return false
	}

	f.lastInode = currentInode
	f.lastMtime = info.ModTime()
	callback := f.onStale
	f.mu.Unlock()

	if callback != nil {
		_ = callback()
	}
	return true
}

// UpdateState re-establishes the tracked baseline after a successful
// reconnect.
func (f *Freshness) UpdateState() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureState()
}

// Enable and Disable toggle freshness checking; a backend holding an
// explicit lock on the file (e.g. mid-restore itself) disables checking
// around that window to avoid reconnecting against a half-written file.
func (f *Freshness) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
	f.captureState()
}

func (f *Freshness) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
}
