// Package hooks implements the "directory of executables" capability of
// §4.D/§9: at each stage boundary, every executable in the matching
// directory runs with (package-id, metafile-path) arguments. A non-zero
// exit is advisory and does not abort the driver by default.
package hooks

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

// Point names a stage boundary a hook fires at.
type Point string

// The hook points enumerated in §4.D.
const (
	PreInit      Point = "pre-init"
	PostDownload Point = "post-download"
	PostExtract  Point = "post-extract"
	PostPatch    Point = "post-patch"
	PostBuild    Point = "post-build"
	PostInstall  Point = "post-install"
	PostPackage  Point = "post-package"
	PostDeploy   Point = "post-deploy"
	PostRegister Point = "post-register"
	PreCleanup   Point = "pre-cleanup"
	PostCleanup  Point = "post-cleanup"
	PreUpgrade   Point = "pre-upgrade"
	PreRemove    Point = "pre-remove"
	PostRemove   Point = "post-remove"
)

// Runner executes hooks rooted under a hooks directory.
type Runner struct {
	hooksDir string
}

// New returns a Runner rooted at hooksDir.
func New(hooksDir string) *Runner {
	return &Runner{hooksDir: hooksDir}
}

// Result records the outcome of one executed hook.
type Result struct {
	Name     string
	Point    Point
	ExitCode int
	Err      error
}

// Run executes every executable in hooksDir/<point>, in sorted name
// order, with (packageID, metafilePath) arguments. Each hook's exit
// status is recorded in the returned results but never aborts the run:
// a non-zero exit or an execution error is logged at Warning and the
// next hook still runs, per §4.D's "advisory" policy.
func (r *Runner) Run(point Point, packageID, metafilePath string) []Result {
	dir := filepath.Join(r.hooksDir, string(point))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			nplog.Warning(nplog.Hook, "listing hook directory %s: %v", dir, err)
		}
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		res := Result{Name: name, Point: point}
		out, err := helpers.RunCommandOutput(path, packageID, metafilePath)
		if err != nil {
			res.Err = nperr.Wrap(nperr.IOError, err, "hook %s", path)
			res.ExitCode = 1
			nplog.Warning(nplog.Hook, "hook %s failed: %v\n%s", path, err, out)
		} else {
			nplog.Debug(nplog.Hook, "hook %s completed", path)
		}
		results = append(results, res)
	}
	return results
}
