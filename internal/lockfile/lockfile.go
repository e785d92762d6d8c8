// Package lockfile implements the process-wide mutation lock of §5: the
// Manifest Store's mutations are serialized by a lock file so that only
// one driver (upgrade, remove, depclean, install) mutates the store at
// a time. Failing to acquire it is a StateConflict, per §7.
package lockfile

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fcanata00/newpkg/internal/nperr"
)

// Lock holds an exclusive advisory lock on one file.
type Lock struct {
	file *os.File
}

var waitTimeout = 10 * time.Second
var pollEvery = 100 * time.Millisecond

// With acquires the lock at path, runs fn, and releases the lock
// afterward regardless of fn's outcome.
func With(path string, fn func() error) error {
	l, err := Acquire(path)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}

// Acquire opens or creates path and takes an exclusive, non-blocking
// flock on it, polling up to waitTimeout before giving up with a
// StateConflict error ("lock held by another driver", per §7).
func Acquire(path string) (*Lock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "opening lock file %s", path)
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: file}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			_ = file.Close()
			return nil, nperr.Wrap(nperr.IOError, err, "locking %s", path)
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return nil, nperr.New(nperr.StateConflict, "lock %s held by another driver", path)
		}
		time.Sleep(pollEvery)
	}
}

// Release unlocks and closes the underlying file. It is safe to call on
// a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return nperr.Wrap(nperr.IOError, err, "unlocking")
	}
	return l.file.Close()
}
