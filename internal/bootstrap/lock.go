// Package bootstrap coordinates one-time process initialization across
// concurrently-started TrakBridge processes sharing a data directory
// (spec.md §4.8 "Bootstrap coordination", §9 "Single-worker SQLite"): an
// advisory file lock under the data directory so only one process performs
// first-run migrations/seeding. Acquire waits up to a timeout for the lock;
// the package has no separate non-blocking "is it running" check.
package bootstrap

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockFileName = ".trakbridge.lock"

// Lock wraps an advisory file lock held for the process lifetime.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes an exclusive advisory lock under dataDir, blocking up to
// timeout. Callers should hold the returned Lock for the life of the
// process and Release on shutdown.
func Acquire(dataDir string, timeout time.Duration) (*Lock, error) {
	path := filepath.Join(dataDir, lockFileName)
	fl := flock.New(path)

	locked, err := tryLockWithTimeout(fl, timeout)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("bootstrap: lock %s held by another process", path)
	}
	return &Lock{fl: fl}, nil
}

func tryLockWithTimeout(fl *flock.Flock, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return false, err
		}
		if locked {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Release gives up the advisory lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
