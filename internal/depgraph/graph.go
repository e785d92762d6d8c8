// Package depgraph implements the Dependency Graph of §4.B: a directed
// graph over installed package names, built from the Manifest Store's
// index, supporting install-order topological sort, reverse-dependency
// closure, orphan detection, and a persistent cache.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fcanata00/newpkg/internal/identifier"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/nperr"
)

// Graph is the directed dependency graph of §4.B: vertices are package
// names, and an edge a -> b means b is in depends(a) after resolving
// against provides.
type Graph struct {
	vertices map[string]bool
	edges    map[string][]string // name -> names it depends on
	provides map[string]string   // provided name -> providing package name
}

// Build constructs a Graph from the manifest index the way
// validateAndFillBundleSet builds a bundleSet from parsed bundle files:
// one vertex per distinct name (highest version wins when the index
// carries several versions of the same name), edges resolved against
// provides across the whole vertex set.
func Build(entries []manifest.Entry) *Graph {
	g := &Graph{
		vertices: map[string]bool{},
		edges:    map[string][]string{},
		provides: map[string]string{},
	}

	best := map[string]manifest.Entry{}
	for _, e := range entries {
		cur, ok := best[e.Name]
		if !ok || identifier.Compare(e.Version, cur.Version) > 0 {
			best[e.Name] = e
		}
	}
	for name := range best {
		g.vertices[name] = true
	}
	for _, e := range best {
		for _, p := range e.Provides {
			g.provides[p] = e.Name
		}
	}
	for _, e := range best {
		var deps []string
		for _, token := range append(append([]string{}, e.Depends.Build...), e.Depends.Run...) {
			name := identifier.ParsePredicate(token).Name
			if resolved, ok := g.provides[name]; ok {
				name = resolved
			}
			deps = append(deps, name)
		}
		g.edges[e.Name] = dedupSorted(deps)
	}
	return g
}

func dedupSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CycleError names the members of a detected strongly connected
// component, matching the "cycle found in bundles: a -> b -> c" shape of
// sortBundles's error.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle found in dependency graph: %s", strings.Join(e.Members, " -> "))
}

type visitState int

const (
	notVisited visitState = iota
	visiting
	visited
)

// Order returns the topological sort of target's dependency closure in
// reverse dependency order (leaves first), tie-broken lexicographically
// by name. skipInstalled, when non-nil, removes any name already present
// in that set from the result (but still visits it for cycle detection).
func (g *Graph) Order(target string, skipInstalled map[string]bool) ([]string, error) {
	mark := map[string]visitState{}
	var sorted []string
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case visiting:
			cycle := append(append([]string{}, stack...), name)
			return &CycleError{Members: cycle}
		case visited:
			return nil
		}
		mark[name] = visiting
		stack = append(stack, name)

		deps := append([]string{}, g.edges[name]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		mark[name] = visited
		sorted = append(sorted, name)
		return nil
	}

	if err := visit(target); err != nil {
		return nil, nperr.Wrap(nperr.DependencyError, err, "ordering dependency closure of %s", target)
	}

	if skipInstalled == nil {
		return sorted, nil
	}
	out := sorted[:0:0]
	for _, name := range sorted {
		if !skipInstalled[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Revdeps returns every ancestor of name: every vertex with a path to
// name.
func (g *Graph) Revdeps(name string) []string {
	seen := map[string]bool{}
	var walk func(n string)
	walk = func(n string) {
		for v, deps := range g.edges {
			for _, d := range deps {
				if d == n && !seen[v] {
					seen[v] = true
					walk(v)
				}
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Orphans returns every vertex with zero in-degree that is not present
// in explicitlyInstalled. When explicitlyInstalled is nil, every
// zero-in-degree vertex is returned.
func (g *Graph) Orphans(explicitlyInstalled map[string]bool) []string {
	indeg := map[string]int{}
	for v := range g.vertices {
		indeg[v] = 0
	}
	for _, deps := range g.edges {
		for _, d := range deps {
			if _, ok := indeg[d]; ok {
				indeg[d]++
			}
		}
	}
	var out []string
	for v, n := range indeg {
		if n != 0 {
			continue
		}
		if explicitlyInstalled != nil && explicitlyInstalled[v] {
			continue
		}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Rebuild returns the set of ancestors of name that should be marked for
// rebuild: name's own revdep closure.
func (g *Graph) Rebuild(name string) []string {
	return g.Revdeps(name)
}

// HasVertex reports whether name is a known vertex.
func (g *Graph) HasVertex(name string) bool {
	return g.vertices[name]
}

// AddTarget inserts a transient vertex (e.g. the package currently being
// resolved for install, which may not be in the store yet) with the
// given dependency names, resolved against the graph's existing
// provides map.
func (g *Graph) AddTarget(name string, dependsTokens []string, provides []string) {
	g.vertices[name] = true
	for _, p := range provides {
		g.provides[p] = name
	}
	var deps []string
	for _, token := range dependsTokens {
		depName := identifier.ParsePredicate(token).Name
		if resolved, ok := g.provides[depName]; ok {
			depName = resolved
		}
		deps = append(deps, depName)
	}
	g.edges[name] = dedupSorted(deps)
}
