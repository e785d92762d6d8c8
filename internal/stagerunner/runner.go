// Package stagerunner implements the Stage Runner of §4.D: the
// fetch→extract→patch→build→stage-install→package→deploy→register
// pipeline, with per-package checkpoints, resume, and hook points.
package stagerunner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fcanata00/newpkg/internal/chroot"
	"github.com/fcanata00/newpkg/internal/fetcher"
	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/metafile"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

// Options controls one Run invocation, mirroring the `install` CLI
// flags of §6 (`--resume, --dry-run, --parallel, --retry, --force`);
// `--stage` is applied by the CLI when it selects recipes.
type Options struct {
	Resume    bool
	DryRun    bool
	Parallel  int
	Retry     int
	Force     bool
	Root      string // deploy target for stage=normal; defaults to "/"
	LFSRoot   string // deploy target for stage=pass1/pass2
	KeepWork  bool   // preserve work dir even on success
}

// Runner drives the pipeline for one package at a time.
type Runner struct {
	workRoot string // parent of all per-package work directories
	stateDir string
	store    *manifestdb.Store
	fetch    *fetcher.Fetcher
	hooks    *hooks.Runner
}

// New returns a Runner.
func New(workRoot, stateDir string, store *manifestdb.Store, fetch *fetcher.Fetcher, hookRunner *hooks.Runner) *Runner {
	return &Runner{workRoot: workRoot, stateDir: stateDir, store: store, fetch: fetch, hooks: hookRunner}
}

func (r *Runner) workDir(recipe *metafile.Recipe) string {
	return filepath.Join(r.workRoot, recipe.Name+"-"+recipe.Version)
}

// Run executes recipe's pipeline, resuming from the checkpoint when
// opts.Resume is set, and returns the final checkpoint.
func (r *Runner) Run(ctx context.Context, recipe *metafile.Recipe, opts Options) (*Checkpoint, error) {
	if err := recipe.RequireSources(); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "package %s", recipe.Name)
	}
	packageID := recipe.Name + "-" + recipe.Version

	cp, err := LoadCheckpoint(r.stateDir, packageID)
	if err != nil {
		return nil, err
	}
	if !opts.Resume {
		cp = &Checkpoint{PackageID: packageID}
	}

	work := r.workDir(recipe)
	if err := os.MkdirAll(work, 0755); err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "creating work dir %s", work)
	}

	r.hooks.Run(hooks.PreInit, packageID, recipe.Path)

	next := cp.NextStage()
	for next != "" {
		if opts.DryRun {
			nplog.Info(nplog.Stage, "dry-run: would run stage %s for %s", next, packageID)
			break
		}
		if err := r.runStage(ctx, next, recipe, work, opts); err != nil {
			return cp, nperr.Wrap(nperr.BuildError, err, "stage %s failed for %s", next, packageID)
		}
		cp.Completed = next
		if err := cp.Save(r.stateDir); err != nil {
			return cp, err
		}
		next = cp.NextStage()
	}

	if !opts.DryRun && !opts.KeepWork {
		if err := os.RemoveAll(work); err != nil {
			nplog.Warning(nplog.Stage, "cleaning up %s: %v", work, err)
		}
	}
	return cp, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, recipe *metafile.Recipe, work string, opts Options) error {
	packageID := recipe.Name + "-" + recipe.Version
	switch stage {
	case StageDownloaded:
		return r.stageDownload(ctx, recipe, opts)
	case StageExtracted:
		return r.stageExtract(recipe, work, opts, packageID)
	case StagePatched:
		return r.stagePatch(recipe, work, packageID)
	case StageBuilt:
		return r.maybeChroot(recipe, opts, func() error { return r.stageBuild(recipe, work, opts, packageID) })
	case StageInstalledDestdir:
		return r.maybeChroot(recipe, opts, func() error { return r.stageInstallDestdir(recipe, work, opts, packageID) })
	case StagePackaged:
		return r.stagePackage(recipe, work, opts, packageID)
	case StageDeployed:
		return r.maybeChroot(recipe, opts, func() error { return r.stageDeploy(recipe, work, opts, packageID) })
	case StageRegistered:
		return r.stageRegister(recipe, work, opts, packageID)
	default:
		return nperr.New(nperr.Malformed, "unknown stage %q", stage)
	}
}

// maybeChroot runs fn inside the bootstrap chroot for recipe.Stage ∈
// {pass1, pass2}, per §4.E's invariant that mounts are established for
// any pass1/pass2 package in the run; a stage-normal package runs fn
// directly against the host.
func (r *Runner) maybeChroot(recipe *metafile.Recipe, opts Options, fn func() error) error {
	if recipe.Stage != metafile.StagePass1 && recipe.Stage != metafile.StagePass2 {
		return fn()
	}
	target := opts.LFSRoot
	if target == "" {
		target = "/"
	}
	return chroot.WithChroot(target, fn)
}

func destDir(work string) string    { return filepath.Join(work, "destdir") }
func srcDir(work string) string     { return filepath.Join(work, "src") }
func packageDir(work string) string { return filepath.Join(work, "pkg") }

func (r *Runner) stageDownload(ctx context.Context, recipe *metafile.Recipe, opts Options) error {
	if err := r.fetch.Fetch(ctx, recipe.Name+"-"+recipe.Version, recipe.Sources, opts.Force); err != nil {
		return err
	}
	r.hooks.Run(hooks.PostDownload, recipe.Name+"-"+recipe.Version, recipe.Path)
	return nil
}

func (r *Runner) stageExtract(recipe *metafile.Recipe, work string, opts Options, packageID string) error {
	dest := srcDir(work)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating source dir")
	}
	for _, source := range recipe.Sources {
		cached := r.fetch.CachePath(source)
		if err := extractArchive(cached, dest); err != nil {
			return err
		}
	}
	r.hooks.Run(hooks.PostExtract, packageID, recipe.Path)
	return nil
}

func (r *Runner) stagePatch(recipe *metafile.Recipe, work string, packageID string) error {
	for _, patch := range recipe.Patches {
		if err := helpers.RunCommandInDir(srcDir(work), "patch", "-p1", "-i", patch); err != nil {
			return nperr.Wrap(nperr.BuildError, err, "applying patch %s", patch)
		}
	}
	r.hooks.Run(hooks.PostPatch, packageID, recipe.Path)
	return nil
}

func retry(n int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= n; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt < n {
			time.Sleep(time.Second)
		}
	}
	return lastErr
}

func (r *Runner) stageBuild(recipe *metafile.Recipe, work string, opts Options, packageID string) error {
	makeJobs := opts.Parallel
	if makeJobs < 1 {
		makeJobs = 1
	}
	cmds := append(append([]string{}, recipe.Commands.Configure...), recipe.Commands.Build...)
	cmds = metafile.InterpolateAll(cmds, makeJobs, destDir(work))
	for _, cmd := range cmds {
		cmd := cmd
		if err := retry(opts.Retry, func() error {
			return helpers.RunCommandInDir(srcDir(work), "sh", "-c", cmd)
		}); err != nil {
			return nperr.Wrap(nperr.BuildError, err, "running build command %q", cmd)
		}
	}
	r.hooks.Run(hooks.PostBuild, packageID, recipe.Path)
	return nil
}

func (r *Runner) stageInstallDestdir(recipe *metafile.Recipe, work string, opts Options, packageID string) error {
	if err := os.MkdirAll(destDir(work), 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating destdir")
	}
	makeJobs := opts.Parallel
	if makeJobs < 1 {
		makeJobs = 1
	}
	cmds := metafile.InterpolateAll(recipe.Commands.Install, makeJobs, destDir(work))
	for _, cmd := range cmds {
		installCmd := cmd
		if helpers.CommandAvailable("fakeroot") {
			installCmd = "fakeroot -- sh -c " + shellQuote(cmd)
		}
		if err := retry(opts.Retry, func() error {
			return helpers.RunCommandInDir(srcDir(work), "sh", "-c", installCmd)
		}); err != nil {
			return nperr.Wrap(nperr.BuildError, err, "running install command %q", cmd)
		}
	}
	r.hooks.Run(hooks.PostInstall, packageID, recipe.Path)
	return nil
}

func shellQuote(s string) string {
	return "'" + s + "'"
}

func (r *Runner) stagePackage(recipe *metafile.Recipe, work string, opts Options, packageID string) error {
	if err := os.MkdirAll(packageDir(work), 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating package dir")
	}
	archive := filepath.Join(packageDir(work), packageID+".tar.zst")
	if err := packageArchive(destDir(work), archive); err != nil {
		return err
	}
	r.hooks.Run(hooks.PostPackage, packageID, recipe.Path)
	return nil
}

func (r *Runner) stageDeploy(recipe *metafile.Recipe, work string, opts Options, packageID string) error {
	target := opts.Root
	if target == "" {
		target = "/"
	}
	if recipe.Stage == metafile.StagePass1 || recipe.Stage == metafile.StagePass2 {
		target = opts.LFSRoot
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating deploy target %s", target)
	}
	archive := filepath.Join(packageDir(work), packageID+".tar.zst")
	if err := extractArchive(archive, target); err != nil {
		return err
	}
	r.hooks.Run(hooks.PostDeploy, packageID, recipe.Path)
	return nil
}

func (r *Runner) stageRegister(recipe *metafile.Recipe, work string, opts Options, packageID string) error {
	target := opts.Root
	if target == "" {
		target = "/"
	}
	if recipe.Stage == metafile.StagePass1 || recipe.Stage == metafile.StagePass2 {
		target = opts.LFSRoot
	}

	files, err := fileListFromDestdir(destDir(work), target)
	if err != nil {
		return err
	}

	m := &manifest.Manifest{
		Name:          recipe.Name,
		Version:       recipe.Version,
		Stage:         string(recipe.Stage),
		Origin:        recipe.Origin,
		InstallPrefix: recipe.InstallPrefix,
		Files:         files,
		Depends:       manifest.Depends{Build: recipe.Depends.Build, Run: recipe.Depends.Run},
		Provides:      recipe.Provides,
		BuildDate:     timeNow(),
	}
	if err := r.store.Add(m, manifestdb.AddOptions{Replace: true}); err != nil {
		return err
	}
	r.hooks.Run(hooks.PostRegister, packageID, recipe.Path)
	return nil
}

// timeNow is a thin indirection so tests can observe a stable build
// date without depending on wall-clock time directly in assertions.
var timeNow = func() (t time.Time) { return time.Now().UTC() }

// fileListFromDestdir walks the staged destdir tree and synthesizes the
// manifest's Files list with paths rewritten relative to target, each
// carrying a sha256 and size, per §4.D's "registered" stage.
func fileListFromDestdir(destdir, target string) ([]manifest.File, error) {
	var files []manifest.File
	err := filepath.WalkDir(destdir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(destdir, path)
		if rerr != nil {
			return rerr
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		sum, serr := sha256File(path)
		if serr != nil {
			return serr
		}
		files = append(files, manifest.File{
			Path:   filepath.Join(target, rel),
			SHA256: sum,
			Size:   info.Size(),
			Mode:   uint32(info.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "walking destdir %s", destdir)
	}
	return files, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
