// Package lock keeps two crawl runs from overlapping on one host.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another process holds the run lock.
var ErrHeld = errors.New("run lock is held by another process")

// RunLock is an exclusive advisory file lock.
type RunLock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the lock at path without blocking.
func Acquire(path string) (*RunLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock.path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, path)
	}
	return &RunLock{path: path, lock: fl}, nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string { return l.path }

// Release unlocks. The lock file is left in place.
func (l *RunLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
