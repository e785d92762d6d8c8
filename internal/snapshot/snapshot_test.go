package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
)

func sampleManifest(path string) *manifest.Manifest {
	return &manifest.Manifest{
		Name:    "alpha",
		Version: "1.0",
		Stage:   "normal",
		Origin:  "ports/alpha",
		Files: []manifest.File{
			{Path: path, SHA256: "deadbeef", Size: 4, Mode: 0644},
		},
	}
}

func TestCreateFromFilesTarWhenNoCachedArchive(t *testing.T) {
	dir := t.TempDir()
	owned := filepath.Join(dir, "owned.txt")
	if err := os.WriteFile(owned, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	store := New(filepath.Join(dir, "snapshots"), filepath.Join(dir, "nocache"))
	m := sampleManifest(owned)

	snapdir, err := store.Create(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(snapdir, "alpha-1.0.json")); err != nil {
		t.Fatalf("expected manifest copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(snapdir, "alpha-1.0.tar.zst")); err != nil {
		t.Fatalf("expected archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(snapdir, "sha256.sum")); err != nil {
		t.Fatalf("expected sha256.sum: %v", err)
	}
}

func TestCreateManifestOnlyWhenNoFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "snapshots"), filepath.Join(dir, "nocache"))
	m := &manifest.Manifest{Name: "beta", Version: "2.0", Stage: "normal"}

	snapdir, err := store.Create(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(snapdir, "beta-2.0.json")); err != nil {
		t.Fatalf("expected manifest copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(snapdir, "beta-2.0.tar.zst")); err == nil {
		t.Fatalf("expected no archive for manifest-only snapshot")
	}
}

func TestRestoreReregistersManifest(t *testing.T) {
	dir := t.TempDir()
	owned := filepath.Join(dir, "owned.txt")
	if err := os.WriteFile(owned, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	store := New(filepath.Join(dir, "snapshots"), filepath.Join(dir, "nocache"))
	m := sampleManifest(owned)
	snapdir, err := store.Create(m)
	if err != nil {
		t.Fatal(err)
	}

	dbStore := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := dbStore.Init(); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "target")
	if err := store.Restore(snapdir, target, dbStore); err != nil {
		t.Fatal(err)
	}

	matches, err := dbStore.Query("alpha-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 manifest registered, got %d", len(matches))
	}
}

func TestPruneRemovesOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, filepath.Join(dir, "nocache"))

	oldDir := filepath.Join(dir, "alpha-1.0-20200101T000000Z")
	newDir := filepath.Join(dir, "alpha-2.0-20990101T000000Z")
	if err := os.MkdirAll(oldDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(newDir, 0755); err != nil {
		t.Fatal(err)
	}
	oldTime := time.Now().Add(-90 * 24 * time.Hour)
	if err := os.Chtimes(oldDir, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(30)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != filepath.Base(oldDir) {
		t.Fatalf("got %v", removed)
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("new snapshot should survive prune: %v", err)
	}
}
