package upgrade

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/fetcher"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/metafile"
	"github.com/fcanata00/newpkg/internal/snapshot"
	"github.com/fcanata00/newpkg/internal/stagerunner"
)

func writeSourceTar(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	tw := tar.NewWriter(f)
	content := []byte("#!/bin/sh\nexit 0\n")
	hdr := &tar.Header{Name: "build.sh", Mode: 0755, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUpgradeSkipsWhenVersionUnchanged(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()

	dbStore := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := dbStore.Init(); err != nil {
		t.Fatal(err)
	}
	if err := dbStore.Add(&manifest.Manifest{Name: "alpha", Version: "1.0", Stage: "normal", Files: []manifest.File{}}, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}

	f := fetcher.New(filepath.Join(dir, "cache"), 1)
	h := hooks.New(filepath.Join(dir, "hooks"))
	runner := stagerunner.New(filepath.Join(dir, "work"), filepath.Join(dir, "state"), dbStore, f, h)
	snaps := snapshot.New(filepath.Join(dir, "snapshots"), filepath.Join(dir, "pkgcache"))
	graphPath := filepath.Join(dir, "graph.json")

	loadRecipe := func(name string) (*metafile.Recipe, error) {
		return &metafile.Recipe{Name: "alpha", Version: "1.0", Stage: metafile.StageNormal}, nil
	}

	driver := New(dbStore, depgraph.Build(nil), graphPath, runner, snaps, h, loadRecipe, "")
	results, err := driver.Run(context.Background(), filepath.Join(dir, "ustate"), []string{"alpha"}, Options{StageOpts: stagerunner.Options{Root: filepath.Join(dir, "root")}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Skipped)
}

func TestUpgradeSucceedsAndSnapshotsOldVersion(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "alpha-2.0.tar")
	writeSourceTar(t, srcFile)

	dbStore := manifestdb.New(filepath.Join(dir, "db"), filepath.Join(dir, "db-backup"), 3)
	if err := dbStore.Init(); err != nil {
		t.Fatal(err)
	}
	oldManifest := &manifest.Manifest{
		Name: "alpha", Version: "1.0", Stage: "normal",
		Files: []manifest.File{{Path: filepath.Join(dir, "root", "usr", "bin", "alpha"), SHA256: "x", Size: 1}},
	}
	if err := dbStore.Add(oldManifest, manifestdb.AddOptions{}); err != nil {
		t.Fatal(err)
	}

	f := fetcher.New(filepath.Join(dir, "cache"), 1)
	h := hooks.New(filepath.Join(dir, "hooks"))
	runner := stagerunner.New(filepath.Join(dir, "work"), filepath.Join(dir, "state"), dbStore, f, h)
	snaps := snapshot.New(filepath.Join(dir, "snapshots"), filepath.Join(dir, "pkgcache"))
	graphPath := filepath.Join(dir, "graph.json")

	loadRecipe := func(name string) (*metafile.Recipe, error) {
		return &metafile.Recipe{
			Name: "alpha", Version: "2.0", Stage: metafile.StageNormal,
			Sources: []string{"file://" + srcFile},
			Commands: metafile.Commands{
				Build:   []string{"true"},
				Install: []string{"mkdir -p @DESTDIR@/usr/bin && cp build.sh @DESTDIR@/usr/bin/alpha"},
			},
		}, nil
	}

	driver := New(dbStore, depgraph.Build(nil), graphPath, runner, snaps, h, loadRecipe, "")
	results, err := driver.Run(context.Background(), filepath.Join(dir, "ustate"), []string{"alpha"}, Options{
		Auto:      true,
		StageOpts: stagerunner.Options{Root: filepath.Join(dir, "root"), Parallel: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Failed)
	require.False(t, results[0].Skipped)
	require.Equal(t, "1.0", results[0].OldVer)
	require.Equal(t, "2.0", results[0].NewVer)

	snapEntries, err := os.ReadDir(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	require.Len(t, snapEntries, 1, "expected one snapshot of the pre-upgrade version")

	matches, err := dbStore.Query("alpha-2.0")
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected new version registered")
}
