// Package snapshot implements the Snapshot Store of §4.F: archived
// copies of an installed package's artifact plus its manifest, used for
// rollback by the Upgrade Driver.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

// Store creates, restores, and prunes snapshot directories under a
// single snapshot root directory.
type Store struct {
	dir          string
	packageCache string // binary cache of packaged archives, e.g. cache_packages_dir
}

// New returns a Store rooted at dir. packageCache is consulted first
// when creating a snapshot, per §4.F's source-preference order.
func New(dir, packageCache string) *Store {
	return &Store{dir: dir, packageCache: packageCache}
}

func (s *Store) dirFor(id, stamp string) string {
	return filepath.Join(s.dir, id+"-"+stamp)
}

// Create captures the currently-installed artifact of m by the best
// available source, in order: (i) the packaged archive in the binary
// cache, (ii) a tar of the files the manifest lists, (iii) a manifest
// copy only. It always writes the manifest JSON alongside whatever
// archive it manages to produce.
func (s *Store) Create(m *manifest.Manifest) (string, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := s.dirFor(m.ID(), stamp)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", nperr.Wrap(nperr.IOError, err, "creating snapshot dir %s", dest)
	}

	if err := writeManifestCopy(dest, m); err != nil {
		return "", err
	}

	filesPresent := false
	for _, f := range m.Files {
		if _, err := os.Lstat(f.Path); err == nil {
			filesPresent = true
			break
		}
	}

	archivePath := filepath.Join(dest, m.ID()+".tar.zst")
	switch {
	case s.cachedArchive(m) != "":
		if err := helpers.CopyFile(archivePath, s.cachedArchive(m)); err != nil {
			return "", nperr.Wrap(nperr.IOError, err, "copying cached archive for %s", m.ID())
		}
	case filesPresent:
		if err := tarFiles(m.Files, archivePath); err != nil {
			return "", err
		}
	default:
		nplog.Warning(nplog.Snapshot, "snapshot of %s has no files on disk; manifest-only snapshot", m.ID())
		nplog.Info(nplog.Snapshot, "created snapshot %s", dest)
		return dest, nil
	}

	if err := writeSHA256Sum(archivePath); err != nil {
		return "", err
	}
	nplog.Info(nplog.Snapshot, "created snapshot %s", dest)
	return dest, nil
}

func (s *Store) cachedArchive(m *manifest.Manifest) string {
	candidate := filepath.Join(s.packageCache, m.ID()+".tar.zst")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func writeManifestCopy(dest string, m *manifest.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "marshaling manifest for snapshot")
	}
	path := filepath.Join(dest, m.FileName())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nperr.Wrap(nperr.IOError, err, "writing %s", path)
	}
	return nil
}

// tarFiles shells out to tar to archive the manifest's owned files into
// archivePath, reusing the zstd-if-available idiom of the Stage Runner's
// packageArchive (same external-binary grounding as swupd/external.go).
func tarFiles(files []manifest.File, archivePath string) error {
	args := []string{}
	if helpers.CommandAvailable("zstd") {
		args = append(args, "--zstd")
	}
	args = append(args, "-cf", archivePath, "--absolute-names")
	for _, f := range files {
		if _, err := os.Lstat(f.Path); err == nil {
			args = append(args, f.Path)
		}
	}
	return helpers.RunCommand("tar", args...)
}

func writeSHA256Sum(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "opening %s", archivePath)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nperr.Wrap(nperr.IOError, err, "hashing %s", archivePath)
	}
	line := hex.EncodeToString(h.Sum(nil)) + "  " + filepath.Base(archivePath) + "\n"
	sumPath := filepath.Join(filepath.Dir(archivePath), "sha256.sum")
	if err := os.WriteFile(sumPath, []byte(line), 0644); err != nil {
		return nperr.Wrap(nperr.IOError, err, "writing %s", sumPath)
	}
	return nil
}

// Restore extracts the snapshot's archive into target (the live root
// for stage=normal, the LFS root for pass1/pass2), then re-registers
// the archived manifest into store with replace=true.
func (s *Store) Restore(snapdir, target string, store *manifestdb.Store) error {
	entries, err := os.ReadDir(snapdir)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "reading snapshot dir %s", snapdir)
	}

	var manifestFile, archiveFile string
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".json"):
			manifestFile = filepath.Join(snapdir, e.Name())
		case strings.HasSuffix(e.Name(), ".tar.zst"), strings.HasSuffix(e.Name(), ".tar"):
			archiveFile = filepath.Join(snapdir, e.Name())
		}
	}
	if manifestFile == "" {
		return nperr.New(nperr.NotFound, "snapshot %s has no manifest", snapdir)
	}

	data, err := os.ReadFile(manifestFile)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "reading snapshot manifest %s", manifestFile)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nperr.Wrap(nperr.Malformed, err, "parsing snapshot manifest %s", manifestFile)
	}

	if archiveFile != "" {
		if err := os.MkdirAll(target, 0755); err != nil {
			return nperr.Wrap(nperr.IOError, err, "creating restore target %s", target)
		}
		if err := helpers.RunCommand("tar", "-xf", archiveFile, "-C", target); err != nil {
			return nperr.Wrap(nperr.IOError, err, "extracting snapshot archive %s", archiveFile)
		}
	}

	if err := store.Add(&m, manifestdb.AddOptions{Replace: true}); err != nil {
		return err
	}
	nplog.Info(nplog.Snapshot, "restored snapshot %s into %s", snapdir, target)
	return nil
}

// Latest returns the most recently created snapshot directory whose
// stored manifest name matches name, for `upgrade --rollback`'s "roll
// the named package back to its last snapshot" use. Directories are
// compared by name, which sorts chronologically since dirFor embeds a
// lexicographically-sortable UTC timestamp.
func (s *Store) Latest(name string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nperr.New(nperr.NotFound, "no snapshots recorded for %q", name)
		}
		return "", nperr.Wrap(nperr.IOError, err, "listing snapshot dir")
	}

	var dirNames []string
	for _, e := range entries {
		if e.IsDir() {
			dirNames = append(dirNames, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirNames)))

	for _, dn := range dirNames {
		candidate := filepath.Join(s.dir, dn)
		m, err := readSnapshotManifest(candidate)
		if err != nil {
			continue
		}
		if m.Name == name {
			return candidate, nil
		}
	}
	return "", nperr.New(nperr.NotFound, "no snapshots recorded for %q", name)
}

func readSnapshotManifest(snapdir string) (*manifest.Manifest, error) {
	entries, err := os.ReadDir(snapdir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(snapdir, e.Name()))
		if err != nil {
			return nil, err
		}
		var m manifest.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	return nil, nperr.New(nperr.NotFound, "snapshot %s has no manifest", snapdir)
}

// Prune removes snapshot directories older than ageDays.
func (s *Store) Prune(ageDays int) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nperr.Wrap(nperr.IOError, err, "listing snapshot dir")
	}
	cutoff := time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour)

	var removed []string
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
				return removed, nperr.Wrap(nperr.IOError, err, "pruning snapshot %s", name)
			}
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		nplog.Info(nplog.Snapshot, "pruned %d snapshots older than %d days", len(removed), ageDays)
	}
	return removed, nil
}
