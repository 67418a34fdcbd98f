// Package filelock guards a host against two concurrent provisioning runs
// with an exclusive flock on <base_dir>/forge.lock.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("filelock: lock is held by another process")

// Lock is an acquired run lock.
type Lock struct {
	Path string
	file *os.File
}

// Meta is the on-disk metadata written alongside a lock file.
type Meta struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Acquire takes the lock at path without blocking. The holder's pid and
// runID are written to path+".meta".
func Acquire(path, runID string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("filelock: mkdir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open: %w", err)
	}

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			holder := 0
			if meta, metaErr := ReadMeta(path); metaErr == nil {
				holder = meta.PID
			}
			return nil, fmt.Errorf("%w (holder PID: %d)", ErrLocked, holder)
		}
		return nil, fmt.Errorf("filelock: flock: %w", err)
	}

	meta := Meta{
		PID:       os.Getpid(),
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(meta)
	if err == nil {
		err = os.WriteFile(path+".meta", data, 0644)
	}
	if err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("filelock: write meta: %w", err)
	}

	return &Lock{Path: path, file: f}, nil
}

// Release drops the flock and removes the metadata file. Releasing a nil or
// already released lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("filelock: unlock: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	_ = os.Remove(l.Path + ".meta")
	if err != nil {
		return fmt.Errorf("filelock: close: %w", err)
	}
	return nil
}

// IsStale reports whether the process recorded in the lock's metadata is
// gone. Missing or unreadable metadata counts as stale.
func IsStale(path string) bool {
	meta, err := ReadMeta(path)
	if err != nil {
		return true
	}
	// Signal 0 checks process existence without sending anything.
	return unix.Kill(meta.PID, 0) == unix.ESRCH
}

func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return Meta{}, fmt.Errorf("filelock: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("filelock: parse meta: %w", err)
	}
	return meta, nil
}
