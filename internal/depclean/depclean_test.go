package depclean

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/remove"
)

func newTestDriver(t *testing.T, mode Mode) (*Driver, *manifestdb.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&manifest.Manifest{Name: "base", Version: "1.0", Stage: "normal", Files: []manifest.File{}}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&manifest.Manifest{
		Name: "top", Version: "1.0", Stage: "normal", Files: []manifest.File{},
		Depends: manifest.Depends{Run: []string{"base"}},
	}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}

	h := hooks.New(filepath.Join(dir, "hooks"))
	graphPath := filepath.Join(dir, "graph.json")
	graph, err := depgraph.Sync(store, graphPath)
	if err != nil {
		t.Fatal(err)
	}

	removeDrv, err := remove.New(store, graph, graphPath, h, "")
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(store, graph, graphPath, removeDrv, "")
	if err != nil {
		t.Fatal(err)
	}
	return d, store, dir
}

func TestDryRunReportsWithoutRemoving(t *testing.T) {
	d, store, _ := newTestDriver(t, ModeDryRun)

	summary, err := d.Run(Options{Mode: ModeDryRun})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Removed) != 0 {
		t.Fatalf("dry-run must not remove anything, got %v", summary.Removed)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0] != "top-1.0" {
		t.Fatalf("expected top-1.0 reported as orphan, got %v", summary.Skipped)
	}

	matches, err := store.Query("top-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("dry-run must not remove the manifest, got %v", matches)
	}
}

func TestAutoModeRemovesOrphan(t *testing.T) {
	d, store, _ := newTestDriver(t, ModeAuto)

	summary, err := d.Run(Options{Mode: ModeAuto})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Removed) != 1 || summary.Removed[0] != "top-1.0" {
		t.Fatalf("got %+v", summary)
	}
	if summary.ExitCode() != 0 {
		t.Fatalf("expected exit 0, got %d", summary.ExitCode())
	}

	matches, err := store.Query("top-1.0")
	if !nperr.Is(err, nperr.NotFound) {
		t.Fatalf("expected NotFound for the removed orphan, got %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected orphan removed, got %v", matches)
	}

	baseMatches, err := store.Query("base-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(baseMatches) != 1 {
		t.Fatalf("base is still depended-on by nothing now, but should not be auto-removed in this run; got %v", baseMatches)
	}
}

func TestProtectedOrphanIsSkipped(t *testing.T) {
	dir := t.TempDir()
	protectedPath := filepath.Join(dir, "protected.list")
	store := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&manifest.Manifest{Name: "top", Version: "1.0", Stage: "normal", Files: []manifest.File{}}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(protectedPath, []byte("top\n"), 0644); err != nil {
		t.Fatal(err)
	}

	h := hooks.New(filepath.Join(dir, "hooks"))
	graphPath := filepath.Join(dir, "graph.json")
	graph, err := depgraph.Sync(store, graphPath)
	if err != nil {
		t.Fatal(err)
	}
	removeDrv, err := remove.New(store, graph, graphPath, h, protectedPath)
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(store, graph, graphPath, removeDrv, protectedPath)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := d.Run(Options{Mode: ModeAuto})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Removed) != 0 || len(summary.Skipped) != 1 {
		t.Fatalf("expected protected orphan skipped, got %+v", summary)
	}
}
