// Package vcs gives the Upgrade and Depclean drivers the single,
// end-of-run ports-tree commit described in §4 and §9: "only the
// Upgrade and Revdep drivers may emit one version-control commit per
// run, at the end."
package vcs

import (
	"os"
	"path/filepath"

	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

// IsRepo reports whether dir is the root of a git checkout.
func IsRepo(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// Commit stages every pending change under dir and commits it with
// message. A dir that is not a git checkout is silently skipped:
// committing the ports tree is opportunistic per "if a
// version-controlled ports tree is configured", not mandatory.
func Commit(dir, message string) error {
	if dir == "" || !IsRepo(dir) {
		return nil
	}
	if err := helpers.Git(dir, "add", "-A"); err != nil {
		return nperr.Wrap(nperr.IOError, err, "git add in %s", dir)
	}
	if err := helpers.Git(dir, "commit", "--quiet", "--allow-empty", "-m", message); err != nil {
		return nperr.Wrap(nperr.IOError, err, "git commit in %s", dir)
	}
	nplog.Info(nplog.VCS, "committed ports tree %s: %s", dir, message)
	return nil
}
