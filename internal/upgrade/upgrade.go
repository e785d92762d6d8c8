// Package upgrade implements the Upgrade Driver of §4.G: moving one or
// more packages from their installed version to a new one found in the
// ports tree, with a snapshot-then-commit/rollback protocol and a
// resumable batch checkpoint.
package upgrade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/metafile"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
	"github.com/fcanata00/newpkg/internal/remove"
	"github.com/fcanata00/newpkg/internal/snapshot"
	"github.com/fcanata00/newpkg/internal/stagerunner"
	"github.com/fcanata00/newpkg/internal/vcs"
)

// Options controls one Driver.Run invocation, mirroring the `upgrade`
// CLI flags of §6.
type Options struct {
	Force           bool // upgrade even when v_old == v_new; also overrides the protected-set guard on orphan file cleanup
	ContinueOnError bool
	Auto            bool // remove orphan files unconditionally
	Confirm         func(prompt string) bool
	StageOpts       stagerunner.Options
	PortsDir        string // ports tree root; "" disables the end-of-run commit
	AutoCommit      bool   // emit one VCS commit for PortsDir at the end of the run
}

// Result records the outcome for one package.
type Result struct {
	Name    string
	OldVer  string
	NewVer  string
	Skipped bool
	Failed  bool
	Err     error
}

// Driver composes the Dep Graph, Stage Runner, Manifest Store, and
// Snapshot Store to drive the contract of §4.G.
type Driver struct {
	store            *manifestdb.Store
	graph            *depgraph.Graph
	graphPath        string
	runner           *stagerunner.Runner
	snaps            *snapshot.Store
	hooks            *hooks.Runner
	loadRecipe       func(name string) (*metafile.Recipe, error)
	protectedSetPath string
}

// New returns a Driver. loadRecipe locates the new metafile for a
// package name in the ports tree (the lookup mechanics are the CLI
// layer's responsibility; the driver only needs the result).
// protectedSetPath is the same protected-name list the Remove/Depclean
// Drivers consult, shared here so post-upgrade orphan file cleanup
// respects it too.
func New(store *manifestdb.Store, graph *depgraph.Graph, graphPath string, runner *stagerunner.Runner, snaps *snapshot.Store, hookRunner *hooks.Runner, loadRecipe func(name string) (*metafile.Recipe, error), protectedSetPath string) *Driver {
	return &Driver{store: store, graph: graph, graphPath: graphPath, runner: runner, snaps: snaps, hooks: hookRunner, loadRecipe: loadRecipe, protectedSetPath: protectedSetPath}
}

// batchState is the resumable JSON state of §4.G's checkpointing clause.
type batchState struct {
	Remaining     []string `json:"remaining"`
	Completed     []string `json:"completed"`
	FailedCurrent string   `json:"failed_current,omitempty"`
}

func batchStatePath(stateDir string) string { return filepath.Join(stateDir, "upgrade-state.json") }

// Run upgrades every name in names in the order given; it does not
// reorder them by dependency. It persists a batch checkpoint after every
// package, and a subsequent --resume run replays the recorded failed
// package first. Under ContinueOnError a later successful package clears
// that record, so a failure followed by a success is not replayed.
func (d *Driver) Run(ctx context.Context, stateDir string, names []string, opts Options) ([]Result, error) {
	state, err := loadBatchState(stateDir, names, opts.StageOpts.Resume)
	if err != nil {
		return nil, err
	}

	var results []Result
	orphanCandidates := map[string][]string{} // name -> files(v_old) paths

	for len(state.Remaining) > 0 {
		name := state.Remaining[0]
		res, oldFiles := d.upgradeOne(ctx, name, opts)
		results = append(results, res)

		state.Remaining = state.Remaining[1:]
		if res.Failed {
			state.FailedCurrent = name
			if err := saveBatchState(stateDir, state); err != nil {
				return results, err
			}
			if !opts.ContinueOnError {
				return results, nperr.Wrap(nperr.BuildError, res.Err, "upgrade of %s failed", name)
			}
			continue
		}
		state.FailedCurrent = ""
		state.Completed = append(state.Completed, name)
		if len(oldFiles) > 0 {
			orphanCandidates[name] = oldFiles
		}
		if err := saveBatchState(stateDir, state); err != nil {
			return results, err
		}
	}

	if err := d.collectOrphans(results, orphanCandidates, opts); err != nil {
		return results, err
	}

	if _, err := depgraph.Sync(d.store, d.graphPath); err != nil {
		nplog.Warning(nplog.Upgrade, "graph-sync after upgrade batch: %v", err)
	}

	if err := d.maybeCommit(results, opts); err != nil {
		nplog.Warning(nplog.VCS, "ports tree commit after upgrade batch: %v", err)
	}

	return results, nil
}

// maybeCommit emits the single, end-of-run ports-tree commit described
// in §4/§9: "only the Upgrade and Revdep drivers may emit one
// version-control commit per run, at the end."
func (d *Driver) maybeCommit(results []Result, opts Options) error {
	if !opts.AutoCommit || opts.PortsDir == "" {
		return nil
	}
	var ids []string
	for _, r := range results {
		if !r.Skipped && !r.Failed {
			ids = append(ids, r.Name+"-"+r.NewVer)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return vcs.Commit(opts.PortsDir, "newpkg upgrade: "+strings.Join(ids, ", "))
}

func loadBatchState(stateDir string, names []string, resume bool) (*batchState, error) {
	if resume {
		if s, err := readBatchState(stateDir); err == nil && s != nil {
			if s.FailedCurrent != "" {
				s.Remaining = append([]string{s.FailedCurrent}, s.Remaining...)
				s.FailedCurrent = ""
			}
			return s, nil
		}
	}
	return &batchState{Remaining: append([]string{}, names...)}, nil
}

func (d *Driver) upgradeOne(ctx context.Context, name string, opts Options) (Result, []string) {
	res := Result{Name: name}

	recipe, err := d.loadRecipe(name)
	if err != nil {
		res.Failed = true
		res.Err = err
		return res, nil
	}
	res.NewVer = recipe.Version

	entries, err := d.store.List(manifestdb.ListOptions{})
	if err != nil {
		res.Failed = true
		res.Err = err
		return res, nil
	}
	var old *manifest.Entry
	for i := range entries {
		if entries[i].Name == name {
			e := entries[i]
			old = &e
		}
	}
	if old != nil {
		res.OldVer = old.Version
	}

	if old != nil && old.Version == recipe.Version && !opts.Force {
		res.Skipped = true
		return res, nil
	}

	packageID := name
	if old != nil {
		packageID = old.Name + "-" + old.Version
	}
	d.hooks.Run(hooks.PreUpgrade, packageID, recipe.Path)

	var snapDir string
	var oldManifest *manifest.Manifest
	if old != nil {
		matches, qerr := d.store.Query(old.Name + "-" + old.Version)
		if qerr == nil && len(matches) == 1 {
			oldManifest = matches[0]
			snapDir, err = d.snaps.Create(oldManifest)
			if err != nil {
				res.Failed = true
				res.Err = err
				return res, nil
			}
		}
	}

	_, err = d.runner.Run(ctx, recipe, opts.StageOpts)
	if err != nil {
		res.Failed = true
		res.Err = err
		if snapDir != "" {
			target := opts.StageOpts.Root
			if target == "" {
				target = "/"
			}
			if rerr := d.snaps.Restore(snapDir, target, d.store); rerr != nil {
				nplog.Warning(nplog.Upgrade, "rollback of %s failed: %v", name, rerr)
			}
			nplog.Warning(nplog.Upgrade, "upgrade-failed: %s rolled back to %s", name, res.OldVer)
		}
		return res, nil
	}

	if oldManifest != nil {
		newMatches, qerr := d.store.Query(name + "-" + recipe.Version)
		if qerr == nil && len(newMatches) == 1 {
			if fingerprint(oldManifest) != fingerprint(newMatches[0]) && old.Version == recipe.Version {
				nplog.Warning(nplog.Upgrade, "integrity fingerprint changed for %s at same version %s", name, recipe.Version)
				if diff := cmp.Diff(filePaths(oldManifest), filePaths(newMatches[0])); diff != "" {
					nplog.Debug(nplog.Upgrade, "owned-file set changed for %s:\n%s", name, diff)
				}
			}
		}
	}

	var oldPaths []string
	if oldManifest != nil {
		for _, f := range oldManifest.Files {
			oldPaths = append(oldPaths, f.Path)
		}
	}
	return res, oldPaths
}

// fingerprint computes a stable sorted hash over a manifest's per-file
// hashes, per §4.G's "integrity fingerprint".
func fingerprint(m *manifest.Manifest) string {
	hashes := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		hashes = append(hashes, f.SHA256)
	}
	sort.Strings(hashes)
	h := sha256.New()
	for _, s := range hashes {
		_, _ = h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// filePaths returns m's owned file paths, sorted for a stable cmp.Diff.
func filePaths(m *manifest.Manifest) []string {
	out := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

// collectOrphans computes files(v_old) \ files(v_new) for every package
// that upgraded successfully and removes them, unconditionally in auto
// mode or after confirmation otherwise.
func (d *Driver) collectOrphans(results []Result, oldFilesByName map[string][]string, opts Options) error {
	protected, err := remove.LoadProtectedSet(d.protectedSetPath)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Skipped || res.Failed {
			continue
		}
		if protected.Contains(res.Name) && !opts.Force {
			nplog.Info(nplog.Upgrade, "skipped orphan file cleanup for protected package %s", res.Name)
			continue
		}
		oldPaths, ok := oldFilesByName[res.Name]
		if !ok {
			continue
		}
		matches, err := d.store.Query(res.Name + "-" + res.NewVer)
		if err != nil || len(matches) != 1 {
			continue
		}
		newSet := map[string]bool{}
		for _, f := range matches[0].Files {
			newSet[f.Path] = true
		}
		var orphans []string
		for _, p := range oldPaths {
			if !newSet[p] {
				orphans = append(orphans, p)
			}
		}
		if len(orphans) == 0 {
			continue
		}
		if !opts.Auto {
			if opts.Confirm == nil || !opts.Confirm(orphanPrompt(res.Name, orphans)) {
				nplog.Info(nplog.Upgrade, "skipped removing %d orphan files for %s", len(orphans), res.Name)
				continue
			}
		}
		for _, p := range orphans {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				nplog.Warning(nplog.Upgrade, "removing orphan file %s: %v", p, err)
			}
		}
		nplog.Info(nplog.Upgrade, "removed %d orphan files for %s", len(orphans), res.Name)
	}
	return nil
}

func orphanPrompt(name string, orphans []string) string {
	return "remove " + name + "'s orphan files? (" + strconv.Itoa(len(orphans)) + " files)"
}

func readBatchState(stateDir string) (*batchState, error) {
	return readJSONState(batchStatePath(stateDir))
}

func saveBatchState(stateDir string, s *batchState) error {
	return writeJSONState(batchStatePath(stateDir), s)
}
