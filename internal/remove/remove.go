// Package remove implements the Remove Driver of §4.H: safely
// uninstalling one or more packages, gated by the protected set and
// reverse-dependency checks, composing the Manifest Store and Dep
// Graph.
package remove

import (
	"os"
	"strings"

	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
	"github.com/fcanata00/newpkg/internal/stringset"
)

// Options controls one Driver.Run invocation, mirroring the `remove`
// CLI flags of §6.
type Options struct {
	Force   bool
	Purge   bool // additionally remove conventional config/state paths
	NoSync  bool // skip the graph-sync collaborator after removal
}

// Result records the outcome for one query.
type Result struct {
	Query   string
	Removed []string // "name-version" ids actually removed
	Skipped bool
	Reason  string
	Err     error
}

// Driver composes the Manifest Store and Dep Graph to drive the
// contract of §4.H.
type Driver struct {
	store     *manifestdb.Store
	graph     *depgraph.Graph
	graphPath string
	hooks     *hooks.Runner
	protected stringset.Set
}

// New returns a Driver. protectedSetPath is read once at construction
// time via LoadProtectedSet; pass "" to disable the protected set.
func New(store *manifestdb.Store, graph *depgraph.Graph, graphPath string, hookRunner *hooks.Runner, protectedSetPath string) (*Driver, error) {
	protected, err := LoadProtectedSet(protectedSetPath)
	if err != nil {
		return nil, err
	}
	return &Driver{store: store, graph: graph, graphPath: graphPath, hooks: hookRunner, protected: protected}, nil
}

// LoadProtectedSet reads one package name per line from path. A missing
// file yields an empty set rather than an error, since an unconfigured
// protected set is a valid (if permissive) configuration.
func LoadProtectedSet(path string) (stringset.Set, error) {
	set := stringset.New()
	if path == "" {
		return set, nil
	}
	lines, err := helpers.ReadFileAndSplit(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, nperr.Wrap(nperr.IOError, err, "reading protected set %s", path)
	}
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		set.Add(name)
	}
	return set, nil
}

// Run removes every query in queries, aggregating results. Per §4.H
// step 8, the caller should treat any Result.Err as a failed removal
// for exit-code purposes; Run itself never stops early on one query's
// failure so the whole batch is attempted.
func (d *Driver) Run(queries []string, opts Options) []Result {
	var results []Result
	for _, query := range queries {
		results = append(results, d.removeOne(query, opts))
	}
	if !opts.NoSync {
		if _, err := depgraph.Sync(d.store, d.graphPath); err != nil {
			nplog.Warning(nplog.Remove, "graph-sync after removal: %v", err)
		}
	}
	return results
}

func (d *Driver) removeOne(query string, opts Options) Result {
	res := Result{Query: query}

	name := bareName(query)
	if d.protected.Contains(name) && !opts.Force {
		res.Skipped = true
		res.Reason = "protected"
		nplog.Warning(nplog.Remove, "refusing to remove protected package %s", name)
		return res
	}

	revdeps, err := d.store.Revdeps(name)
	if err != nil {
		res.Err = err
		return res
	}
	if len(revdeps) > 0 && !opts.Force {
		res.Skipped = true
		res.Reason = "reverse-depended by " + strings.Join(revdeps, ", ")
		nplog.Warning(nplog.Remove, "refusing to remove %s: reverse-depended by %s", name, strings.Join(revdeps, ", "))
		return res
	}

	matches, err := d.store.Query(query)
	if err != nil {
		res.Err = err
		return res
	}
	var filePaths []string
	for _, m := range matches {
		for _, f := range m.Files {
			filePaths = append(filePaths, f.Path)
		}
	}

	d.hooks.Run(hooks.PreRemove, name, "")

	removed, err := d.store.Remove(query, manifestdb.RemoveOptions{Force: opts.Force})
	if err != nil {
		res.Err = err
		return res
	}
	res.Removed = removed

	for _, p := range filePaths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			nplog.Warning(nplog.Remove, "removing file %s: %v", p, err)
		}
	}
	if opts.Purge {
		purgeConventionalPaths(name)
	}

	d.hooks.Run(hooks.PostRemove, name, "")
	nplog.Info(nplog.Remove, "removed %s", strings.Join(removed, ", "))
	return res
}

func bareName(query string) string {
	if idx := strings.LastIndexByte(query, '-'); idx > 0 {
		if isVersionLike(query[idx+1:]) {
			return query[:idx]
		}
	}
	return query
}

func isVersionLike(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// purgeConventionalPaths removes the configuration/state paths a
// package conventionally owns by name, per §4.H's `--purge` clause.
func purgeConventionalPaths(name string) {
	for _, base := range []string{"/etc/" + name, "/var/lib/" + name, "/var/cache/" + name} {
		if err := os.RemoveAll(base); err != nil && !os.IsNotExist(err) {
			nplog.Warning(nplog.Remove, "purging %s: %v", base, err)
		}
	}
}
