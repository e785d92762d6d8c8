package remove

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/nperr"
)

func newTestDriver(t *testing.T, protectedPath string) (*Driver, *manifestdb.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	h := hooks.New(filepath.Join(dir, "hooks"))
	graph := depgraph.Build(nil)
	graphPath := filepath.Join(dir, "graph.json")
	d, err := New(store, graph, graphPath, h, protectedPath)
	if err != nil {
		t.Fatal(err)
	}
	return d, store, dir
}

func TestRemoveDeletesManifestAndFiles(t *testing.T) {
	d, store, dir := newTestDriver(t, "")
	owned := filepath.Join(dir, "owned.txt")
	if err := os.WriteFile(owned, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	m := &manifest.Manifest{Name: "alpha", Version: "1.0", Stage: "normal", Files: []manifest.File{{Path: owned}}}
	if err := store.Add(m, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}

	results := d.Run([]string{"alpha-1.0"}, Options{})
	if len(results) != 1 || results[0].Err != nil || results[0].Skipped {
		t.Fatalf("got %+v", results)
	}
	if _, err := os.Stat(owned); !os.IsNotExist(err) {
		t.Fatalf("expected owned file removed, stat err=%v", err)
	}
	matches, err := store.Query("alpha-1.0")
	if !nperr.Is(err, nperr.NotFound) {
		t.Fatalf("expected NotFound for the removed manifest, got %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected manifest gone, got %v", matches)
	}
}

func TestRemoveRefusesProtectedWithoutForce(t *testing.T) {
	dir := t.TempDir()
	protectedPath := filepath.Join(dir, "protected.list")
	if err := os.WriteFile(protectedPath, []byte("alpha\n"), 0644); err != nil {
		t.Fatal(err)
	}

	store := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&manifest.Manifest{Name: "alpha", Version: "1.0", Stage: "normal", Files: []manifest.File{}}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	h := hooks.New(filepath.Join(dir, "hooks"))
	d, err := New(store, depgraph.Build(nil), filepath.Join(dir, "graph.json"), h, protectedPath)
	if err != nil {
		t.Fatal(err)
	}

	results := d.Run([]string{"alpha-1.0"}, Options{})
	if len(results) != 1 || !results[0].Skipped || results[0].Reason != "protected" {
		t.Fatalf("got %+v", results)
	}

	matches, err := store.Query("alpha-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected manifest to survive, got %v", matches)
	}
}

func TestRemoveRefusesReverseDependedWithoutForce(t *testing.T) {
	d, store, _ := newTestDriver(t, "")
	if err := store.Add(&manifest.Manifest{Name: "base", Version: "1.0", Stage: "normal", Files: []manifest.File{}}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&manifest.Manifest{
		Name: "top", Version: "1.0", Stage: "normal", Files: []manifest.File{},
		Depends: manifest.Depends{Run: []string{"base"}},
	}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}

	results := d.Run([]string{"base-1.0"}, Options{})
	if len(results) != 1 || !results[0].Skipped {
		t.Fatalf("expected skip due to reverse dependency, got %+v", results)
	}
}

func TestRemoveForceOverridesReverseDepend(t *testing.T) {
	d, store, _ := newTestDriver(t, "")
	if err := store.Add(&manifest.Manifest{Name: "base", Version: "1.0", Stage: "normal", Files: []manifest.File{}}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&manifest.Manifest{
		Name: "top", Version: "1.0", Stage: "normal", Files: []manifest.File{},
		Depends: manifest.Depends{Run: []string{"base"}},
	}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}

	results := d.Run([]string{"base-1.0"}, Options{Force: true})
	if len(results) != 1 || results[0].Err != nil || results[0].Skipped {
		t.Fatalf("expected forced removal to succeed, got %+v", results)
	}
}
