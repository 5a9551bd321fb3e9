package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrProfileLocked means another process holds the profile directory.
// A stale holder is the LockConflict trigger for the recovery engine.
var ErrProfileLocked = errors.New("profile directory is locked by another process")

// lockFileName lives inside the profile directory so a stale worker
// holding the profile keeps holding the lock too.
const lockFileName = "herd.lock"

// ProfileLock guards a browser profile directory against concurrent use.
// Chromium itself refuses to start on a held profile; taking our own lock
// first turns that failure mode into a typed, recoverable error.
type ProfileLock struct {
	lock *flock.Flock
	path string
}

// NewProfileLock prepares a lock for the given profile directory, creating
// the directory if needed.
func NewProfileLock(profileDir string) (*ProfileLock, error) {
	if err := os.MkdirAll(profileDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	path := filepath.Join(profileDir, lockFileName)
	return &ProfileLock{lock: flock.New(path), path: path}, nil
}

// Acquire takes the lock without blocking. A held lock returns
// ErrProfileLocked so the caller can route it through recovery.
func (p *ProfileLock) Acquire() error {
	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring profile lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrProfileLocked, p.path)
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (p *ProfileLock) Release() error {
	return p.lock.Unlock()
}

// Path returns the lock file path.
func (p *ProfileLock) Path() string {
	return p.path
}
