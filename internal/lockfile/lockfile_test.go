package lockfile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fcanata00/newpkg/internal/nperr"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newpkg.lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	oldTimeout, oldPoll := waitTimeout, pollEvery
	waitTimeout, pollEvery = 200*time.Millisecond, 20*time.Millisecond
	defer func() { waitTimeout, pollEvery = oldTimeout, oldPoll }()

	path := filepath.Join(t.TempDir(), "newpkg.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Release() }()

	_, err = Acquire(path)
	if nperr.KindOf(err) != nperr.StateConflict {
		t.Fatalf("got %v, want StateConflict", err)
	}
}

func TestWithRunsFnUnderLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newpkg.lock")
	ran := false
	if err := With(path, func() error { ran = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
}
