package depgraph

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

// cacheFile is the on-disk shape of the persistent graph cache
// described in §4.B: never authoritative, rebuilt from the store on
// Sync and discarded by Purge.
type cacheFile struct {
	Vertices []string            `json:"vertices"`
	Edges    map[string][]string `json:"edges"`
	Provides map[string]string   `json:"provides"`
}

// Load reads a previously Sync'd graph cache from path. Callers should
// treat a Load failure as "no cache" and fall back to Sync against the
// store, since the cache is advisory per §4.B.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "reading graph cache %s", path)
	}
	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing graph cache %s", path)
	}
	g := &Graph{
		vertices: map[string]bool{},
		edges:    c.Edges,
		provides: c.Provides,
	}
	for _, v := range c.Vertices {
		g.vertices[v] = true
	}
	return g, nil
}

// Save writes the graph cache to path via write-tmp-then-rename.
func (g *Graph) Save(path string) error {
	vertices := make([]string, 0, len(g.vertices))
	for v := range g.vertices {
		vertices = append(vertices, v)
	}
	sort.Strings(vertices)
	c := cacheFile{Vertices: vertices, Edges: g.edges, Provides: g.provides}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "marshaling graph cache")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nperr.Wrap(nperr.IOError, err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nperr.Wrap(nperr.IOError, err, "renaming %s to %s", tmp, path)
	}
	return nil
}

// Sync rebuilds the graph from the manifest store's current index and
// persists it to cachePath, the way §4.B describes "rebuild the cache
// derived from the current manifest set". The store is always the
// source of truth; on disagreement the cache loses.
func Sync(store *manifestdb.Store, cachePath string) (*Graph, error) {
	entries, err := store.ReadIndex()
	if err != nil {
		return nil, err
	}
	g := Build(entries)
	if err := g.Save(cachePath); err != nil {
		return nil, err
	}
	nplog.Info(nplog.DepGraph, "sync: %d vertices", len(g.vertices))
	return g, nil
}

// Purge removes the persistent cache file, forcing the next Sync/Load
// cycle to rebuild from scratch.
func Purge(cachePath string) error {
	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		return nperr.Wrap(nperr.IOError, err, "purging graph cache %s", cachePath)
	}
	return nil
}
