// Package chroot implements the Chroot Lifecycle of §4.E: a reusable
// object that bind-mounts the kernel's virtual filesystems onto a
// target root, copies the host resolver file, and guarantees teardown
// on every exit path.
package chroot

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

// cleanDirs are emptied (not removed) by CleanBetween, per §4.E's
// "clean_between(root): empty {/tmp, /var/tmp, /build} inside the
// root; safe to call between packages within one mount lifetime."
var cleanDirs = []string{"/tmp", "/var/tmp", "/build"}

// mountPoints are bind-mounted in this order on Enter and unmounted in
// reverse order on Leave, the way the teacher's getDockerMounts builds
// an ordered list of directories that must be available inside the
// build environment — here resolved to the fixed kernel-virtual-fs set
// of §4.E instead of a config-derived list.
var mountPoints = []string{"/dev", "/dev/pts", "/proc", "/sys", "/run"}

// Chroot tracks the mount state of one target root so Leave can always
// tear down exactly what Enter set up, even on a partial failure.
type Chroot struct {
	root    string
	mounted []string // subset of mountPoints successfully mounted, in mount order
}

// New returns a Chroot rooted at root. It performs no I/O.
func New(root string) *Chroot {
	return &Chroot{root: root}
}

// Root returns the chroot's target root directory.
func (c *Chroot) Root() string { return c.root }

// Enter bind-mounts the kernel virtual filesystems and copies the host
// DNS resolver file into the target root. On any failure it tears down
// whatever it already mounted before returning the error, so a caller
// never needs to call Leave after a failed Enter.
func (c *Chroot) Enter() (err error) {
	defer func() {
		if err != nil {
			_ = c.Leave()
		}
	}()

	for _, mp := range mountPoints {
		target := filepath.Join(c.root, mp)
		if err = os.MkdirAll(target, 0755); err != nil {
			return nperr.Wrap(nperr.IOError, err, "creating mount point %s", target)
		}
		if isMountpoint(target) {
			// mount(root) is idempotent per §4.E: a target that is
			// already a mount point is left alone.
			nplog.Debug(nplog.Chroot, "%s already mounted, skipping", target)
			continue
		}
		if err = unix.Mount(mp, target, "", unix.MS_BIND, ""); err != nil {
			return nperr.Wrap(nperr.IOError, err, "bind-mounting %s onto %s", mp, target)
		}
		c.mounted = append(c.mounted, mp)
		nplog.Debug(nplog.Chroot, "mounted %s -> %s", mp, target)
	}

	if err = c.copyResolvConf(); err != nil {
		return err
	}
	nplog.Info(nplog.Chroot, "entered chroot at %s", c.root)
	return nil
}

// isMountpoint reports whether target is already listed as a mount
// point in /proc/self/mountinfo, so repeated Enter calls across
// packages within one driver run don't re-mount (or error re-mounting)
// a target the run already mounted.
func isMountpoint(target string) bool {
	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		if fields[4] == abs {
			return true
		}
	}
	return false
}

// CleanBetween empties (without removing) /tmp, /var/tmp, and /build
// inside root, per §4.E's clean_between operation. It is safe to call
// between packages that share one mount lifetime and tolerates any of
// the three directories being absent.
func (c *Chroot) CleanBetween() error {
	for _, dir := range cleanDirs {
		target := filepath.Join(c.root, dir)
		entries, err := os.ReadDir(target)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nperr.Wrap(nperr.IOError, err, "reading %s", target)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(target, e.Name())); err != nil {
				return nperr.Wrap(nperr.IOError, err, "cleaning %s", filepath.Join(target, e.Name()))
			}
		}
	}
	nplog.Debug(nplog.Chroot, "cleaned between-build dirs under %s", c.root)
	return nil
}

// copyResolvConf copies the host's /etc/resolv.conf into the target
// root so DNS resolution works inside the chroot, per §4.E.
func (c *Chroot) copyResolvConf() error {
	dest := filepath.Join(c.root, "etc", "resolv.conf")
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating %s", filepath.Dir(dest))
	}
	if err := helpers.CopyFile(dest, "/etc/resolv.conf"); err != nil {
		return nperr.Wrap(nperr.IOError, err, "copying resolv.conf into chroot")
	}
	return nil
}

// Leave unmounts, in reverse order, whatever Enter successfully
// mounted. It is idempotent and safe to call multiple times or after a
// partial Enter failure; it records but does not abort on individual
// unmount errors, reporting the first one after attempting every
// unmount, the way a teardown trap must run to completion regardless of
// individual step failures.
func (c *Chroot) Leave() error {
	var firstErr error
	reversed := c.mounted
	for i := len(reversed) - 1; i >= 0; i-- {
		mp := reversed[i]
		target := filepath.Join(c.root, mp)
		if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
			nplog.Warning(nplog.Chroot, "unmounting %s: %v", target, err)
			if firstErr == nil {
				firstErr = nperr.Wrap(nperr.IOError, err, "unmounting %s", target)
			}
			continue
		}
		nplog.Debug(nplog.Chroot, "unmounted %s", target)
	}
	c.mounted = nil
	if firstErr == nil {
		nplog.Info(nplog.Chroot, "left chroot at %s", c.root)
	}
	return firstErr
}

// WithChroot acquires the chroot, runs fn, and guarantees Leave runs on
// every exit path including a panic recovered and re-raised after
// teardown, implementing the "scoped acquisition abstraction" redesign
// of DESIGN NOTES §9.
func WithChroot(root string, fn func() error) (err error) {
	c := New(root)
	if err = c.Enter(); err != nil {
		return err
	}
	if err = c.CleanBetween(); err != nil {
		_ = c.Leave()
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = c.Leave()
			panic(r)
		}
		if leaveErr := c.Leave(); leaveErr != nil && err == nil {
			err = leaveErr
		}
	}()
	return fn()
}
