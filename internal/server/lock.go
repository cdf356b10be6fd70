package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// ErrAlreadyLocked is returned by AcquireLock when another process
// already holds the lock file.
var ErrAlreadyLocked = errors.New("server: lock already held by another process")

// LockInfo is the JSON metadata written into the lock file once held,
// kept nearly verbatim from the teacher's DaemonLockInfo — PID and
// start time are exactly what an operator diagnosing a stuck `graphd
// serve` wants to see.
type LockInfo struct {
	PID          int       `json:"pid"`
	ManifestPath string    `json:"manifest_path"`
	StartedAt    time.Time `json:"started_at"`
}

// Lock is a held single-instance guard over a keyspace manifest, backed
// by gofrs/flock rather than the teacher's hand-rolled flockExclusive
// syscall shim (see DESIGN.md).
type Lock struct {
	fl   *flock.Flock
	path string
}

// AcquireLock takes an exclusive, non-blocking lock on path, so two
// `graphd serve` processes can never both own the same manifest.
// Returns ErrAlreadyLocked if another process holds it.
func AcquireLock(path, manifestPath string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("server: lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyLocked
	}

	info := LockInfo{PID: os.Getpid(), ManifestPath: manifestPath, StartedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(info, "", "  ")
	if err == nil {
		_ = os.WriteFile(path+".info", data, 0o600)
	}

	return &Lock{fl: fl, path: path}, nil
}

// Release releases the lock and removes its metadata sidecar file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := l.fl.Unlock()
	_ = os.Remove(l.path + ".info")
	return err
}

// ReadLockInfo reads the metadata sidecar for the lock at path, without
// acquiring it. Returns an error if no process currently appears to hold
// it (no sidecar file).
func ReadLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path + ".info")
	if err != nil {
		return nil, fmt.Errorf("server: read lock info: %w", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("server: parse lock info: %w", err)
	}
	return &info, nil
}
