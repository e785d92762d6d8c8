package manifestdb

import (
	"path/filepath"
	"testing"

	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/nperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "db"), filepath.Join(dir, "backup"), 3)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func sampleManifest(name, version string) *manifest.Manifest {
	return &manifest.Manifest{
		Name:    name,
		Version: version,
		Files:   []manifest.File{{Path: "/usr/bin/" + name}},
		Depends: manifest.Depends{Run: []string{"libc"}},
	}
}

func TestAddAndQuery(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(sampleManifest("alpha", "1.0"), AddOptions{}); err != nil {
		t.Fatal(err)
	}
	matches, err := s.Query("alpha-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Name != "alpha" {
		t.Fatalf("got %+v", matches)
	}
}

func TestAddDuplicateWithoutReplaceFails(t *testing.T) {
	s := newTestStore(t)
	m := sampleManifest("alpha", "1.0")
	if err := s.Add(m, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	err := s.Add(m, AddOptions{})
	if nperr.KindOf(err) != nperr.AlreadyExists {
		t.Fatalf("got %v, want AlreadyExists", err)
	}
}

func TestAddReplaceBacksUpPrior(t *testing.T) {
	s := newTestStore(t)
	m := sampleManifest("alpha", "1.0")
	if err := s.Add(m, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	m.Description = "updated"
	if err := s.Add(m, AddOptions{Replace: true}); err != nil {
		t.Fatal(err)
	}
	matches, err := s.Query("alpha-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Description != "updated" {
		t.Fatalf("got %+v", matches[0])
	}
}

func TestRemoveAmbiguous(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(sampleManifest("alpha", "1.0"), AddOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(sampleManifest("alpha", "2.0"), AddOptions{}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Remove("alpha", RemoveOptions{})
	if nperr.KindOf(err) != nperr.Ambiguous {
		t.Fatalf("got %v, want Ambiguous", err)
	}
	removed, err := s.Remove("alpha", RemoveOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("got %v", removed)
	}
}

func TestRevdepsStripsVersionPredicate(t *testing.T) {
	s := newTestStore(t)
	base := sampleManifest("libc", "2.0")
	base.Depends.Run = nil
	if err := s.Add(base, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	dependent := sampleManifest("alpha", "1.0")
	dependent.Depends.Run = []string{"libc>=2.0"}
	if err := s.Add(dependent, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	revdeps, err := s.Revdeps("libc")
	if err != nil {
		t.Fatal(err)
	}
	if len(revdeps) != 1 || revdeps[0] != "alpha-1.0" {
		t.Fatalf("got %v", revdeps)
	}
}

func TestOrphansPicksHighestVersion(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(sampleManifest("alpha", "1.0"), AddOptions{}); err != nil {
		t.Fatal(err)
	}
	a2 := sampleManifest("alpha", "2.0")
	a2.Depends.Run = nil
	if err := s.Add(a2, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	orphans, err := s.Orphans()
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 1 || orphans[0] != "alpha-2.0" {
		t.Fatalf("got %v", orphans)
	}
}

func TestBackupAndRestore(t *testing.T) {
	s := newTestStore(t)
	if err := s.Add(sampleManifest("alpha", "1.0"), AddOptions{}); err != nil {
		t.Fatal(err)
	}
	archive, err := s.Backup()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Remove("alpha-1.0", RemoveOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Restore(archive); err != nil {
		t.Fatal(err)
	}
	matches, err := s.Query("alpha-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %v", matches)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	m := sampleManifest("alpha", "1.0")
	m.Description = "a sample compression library"
	if err := s.Add(m, AddOptions{}); err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("compression")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %v", results)
	}
}
