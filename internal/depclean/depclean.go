// Package depclean implements the Revdep/Depclean Driver of §4.I:
// finding and removing orphan packages (installed packages nothing
// depends on), gated by the protected set, composing the Manifest
// Store, Dep Graph, and Remove Driver.
package depclean

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/identifier"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/nplog"
	"github.com/fcanata00/newpkg/internal/remove"
	"github.com/fcanata00/newpkg/internal/stringset"
	"github.com/fcanata00/newpkg/internal/vcs"
)

// Mode selects how candidates are disposed of. §4.I requires one of
// Auto or Interactive to be chosen explicitly; ModeDryRun is the
// default and only reports candidates.
type Mode int

const (
	ModeDryRun Mode = iota
	ModeAuto
	ModeInteractive
)

// Options controls one Driver.Run invocation, mirroring the `depclean`
// CLI flags of §6.
type Options struct {
	Mode    Mode
	Force   bool // double-check override: remove even if revdeps > 0
	Confirm func(name string) bool

	Verify bool // check manifest integrity before removing a candidate

	PurgeCache      bool // also clear the cached archive/sources for every removed candidate
	PackageCacheDir string
	SourceCacheDir  string

	AutoCommit bool // emit one VCS commit for PortsDir at the end of the run
	PortsDir   string
}

// Summary aggregates the outcome of a depclean run, per §4.I.
type Summary struct {
	Removed []string
	Skipped []string
	Failed  []string
}

// ExitCode returns 2 iff any candidate failed to remove, per §4.I.
func (s Summary) ExitCode() int {
	if len(s.Failed) > 0 {
		return 2
	}
	return 0
}

// Driver composes the Manifest Store, Dep Graph, and Remove Driver.
type Driver struct {
	store       *manifestdb.Store
	graph       *depgraph.Graph
	graphPath   string
	removeDrv   *remove.Driver
	protected   stringset.Set
}

// New returns a Driver.
func New(store *manifestdb.Store, graph *depgraph.Graph, graphPath string, removeDrv *remove.Driver, protectedSetPath string) (*Driver, error) {
	protected, err := remove.LoadProtectedSet(protectedSetPath)
	if err != nil {
		return nil, err
	}
	return &Driver{store: store, graph: graph, graphPath: graphPath, removeDrv: removeDrv, protected: protected}, nil
}

// orphans detects candidates via the Dep Graph when it has any vertex
// matching the store's current index, falling back to a store-only
// scan (every installed name with zero revdeps) per §4.I's "Dep Graph
// (preferred) or a store-only fallback". Either way candidates are
// "name-version" ids at the highest installed version of each name.
func (d *Driver) orphans() ([]string, error) {
	entries, err := d.store.List(manifestdb.ListOptions{})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if d.graph.HasVertex(e.Name) {
			var ids []string
			for _, name := range d.graph.Orphans(nil) {
				version := ""
				for _, c := range entries {
					if c.Name == name && (version == "" || identifier.Compare(c.Version, version) > 0) {
						version = c.Version
					}
				}
				if version != "" {
					ids = append(ids, name+"-"+version)
				}
			}
			return ids, nil
		}
	}
	return d.store.Orphans()
}

// Run detects orphan packages and removes the ones that pass the
// protected-set and revdep double-check, per §4.I's per-candidate
// contract.
func (d *Driver) Run(opts Options) (Summary, error) {
	var summary Summary

	candidates, err := d.orphans()
	if err != nil {
		return summary, err
	}

	for _, candidate := range candidates {
		name := bareName(candidate)
		if d.protected.Contains(name) {
			summary.Skipped = append(summary.Skipped, candidate)
			nplog.Info(nplog.Depclean, "skipping protected orphan %s", candidate)
			continue
		}

		revdeps, err := d.store.Revdeps(name)
		if err != nil {
			summary.Failed = append(summary.Failed, candidate)
			continue
		}
		if len(revdeps) > 0 && !opts.Force {
			summary.Skipped = append(summary.Skipped, candidate)
			nplog.Info(nplog.Depclean, "skipping %s: now reverse-depended by %v", candidate, revdeps)
			continue
		}

		if opts.Verify {
			issues, verr := d.store.Verify(candidate)
			if verr != nil {
				summary.Failed = append(summary.Failed, candidate)
				continue
			}
			if len(issues) > 0 && !opts.Force {
				summary.Skipped = append(summary.Skipped, candidate)
				nplog.Warning(nplog.Depclean, "skipping %s: %d integrity issue(s) found", candidate, len(issues))
				continue
			}
		}

		switch opts.Mode {
		case ModeDryRun:
			summary.Skipped = append(summary.Skipped, candidate)
			nplog.Info(nplog.Depclean, "dry-run: would remove orphan %s", candidate)
			continue
		case ModeInteractive:
			if opts.Confirm != nil && !opts.Confirm(candidate) {
				summary.Skipped = append(summary.Skipped, candidate)
				continue
			}
		case ModeAuto:
			// fall through to removal unconditionally
		}

		results := d.removeDrv.Run([]string{candidate}, remove.Options{NoSync: true})
		if len(results) != 1 || results[0].Err != nil || results[0].Skipped {
			summary.Failed = append(summary.Failed, candidate)
			continue
		}
		summary.Removed = append(summary.Removed, candidate)

		if opts.PurgeCache {
			d.purgeCache(candidate, opts)
		}
	}

	if len(summary.Removed) > 0 {
		if _, err := depgraph.Sync(d.store, d.graphPath); err != nil {
			nplog.Warning(nplog.Depclean, "graph-sync after depclean: %v", err)
		}
	}

	if err := d.maybeCommit(summary, opts); err != nil {
		nplog.Warning(nplog.VCS, "ports tree commit after depclean: %v", err)
	}

	nplog.Info(nplog.Depclean, "depclean summary: removed=%d skipped=%d failed=%d",
		len(summary.Removed), len(summary.Skipped), len(summary.Failed))
	return summary, nil
}

// purgeCache removes candidate's cached package archive and any
// source-cache entries whose name starts with its bare name, tolerating
// either being absent already.
func (d *Driver) purgeCache(candidate string, opts Options) {
	if opts.PackageCacheDir != "" {
		archive := filepath.Join(opts.PackageCacheDir, candidate+".tar.zst")
		if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
			nplog.Warning(nplog.Depclean, "purging cached archive %s: %v", archive, err)
		}
	}
	if opts.SourceCacheDir != "" {
		name := bareName(candidate)
		entries, err := os.ReadDir(opts.SourceCacheDir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), name) {
				path := filepath.Join(opts.SourceCacheDir, e.Name())
				if err := os.RemoveAll(path); err != nil {
					nplog.Warning(nplog.Depclean, "purging cached source %s: %v", path, err)
				}
			}
		}
	}
}

// maybeCommit emits the single, end-of-run ports-tree commit described
// in §4/§9: "only the Upgrade and Revdep drivers may emit one
// version-control commit per run, at the end."
func (d *Driver) maybeCommit(summary Summary, opts Options) error {
	if !opts.AutoCommit || opts.PortsDir == "" || len(summary.Removed) == 0 {
		return nil
	}
	return vcs.Commit(opts.PortsDir, "newpkg depclean: "+strings.Join(summary.Removed, ", "))
}

func bareName(query string) string {
	for i := len(query) - 1; i > 0; i-- {
		if query[i] == '-' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			return query[:i]
		}
	}
	return query
}
