// Package manifestdb implements the Manifest Store of §4.A: a
// content-addressable directory of per-package JSON manifests, an
// index derived from them, atomic mutation, and backup rotation.
package manifestdb

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fcanata00/newpkg/internal/identifier"
	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
	"github.com/fcanata00/newpkg/internal/stringset"
)

// Store is the Manifest Store rooted at a db directory and a backup
// directory, mirroring the (dbDir, backupDir) pair the teacher's
// manifest/bundleinfo code reads and writes relative to a state dir.
type Store struct {
	dir       string
	backupDir string
	keepBack  int
}

// New returns a Store rooted at dir, backing up removed/replaced
// manifests under backupDir. keepBackups is the number of rotated
// backups to retain per package (0 means unlimited).
func New(dir, backupDir string, keepBackups int) *Store {
	return &Store{dir: dir, backupDir: backupDir, keepBack: keepBackups}
}

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.json") }

func (s *Store) manifestPath(name string) string { return filepath.Join(s.dir, name) }

// Init ensures the store's directories exist and that an index file is
// present, creating an empty one ("[]") if absent.
func (s *Store) Init() error {
	for _, d := range []string{s.dir, s.backupDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nperr.Wrap(nperr.IOError, err, "creating store directory %s", d)
		}
	}
	if _, err := os.Stat(s.indexPath()); os.IsNotExist(err) {
		return writeJSONAtomic(s.indexPath(), []manifest.Entry{})
	} else if err != nil {
		return nperr.Wrap(nperr.IOError, err, "stat index %s", s.indexPath())
	}
	return nil
}

// writeJSONAtomic marshals v and writes it to path via write-tmp-then-
// rename, the pattern every mutation in §4.A relies on.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "marshaling %s", path)
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

// ReadIndex loads the current index.
func (s *Store) ReadIndex() ([]manifest.Entry, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "reading index %s", s.indexPath())
	}
	var entries []manifest.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing index %s", s.indexPath())
	}
	return entries, nil
}

func (s *Store) writeIndex(entries []manifest.Entry) error {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Version < entries[j].Version
	})
	return writeJSONAtomic(s.indexPath(), entries)
}

// AddOptions controls Add's behavior.
type AddOptions struct {
	Replace bool
}

// Add validates m and writes it into the store. If a manifest for
// m.ID() already exists and Replace is false, it fails with
// nperr.AlreadyExists; otherwise the prior file is moved to backup
// before the new one is written.
func (s *Store) Add(m *manifest.Manifest, opts AddOptions) error {
	if err := m.Validate(); err != nil {
		return nperr.Wrap(nperr.Malformed, err, "validating manifest")
	}
	dest := s.manifestPath(m.FileName())
	if _, err := os.Stat(dest); err == nil {
		if !opts.Replace {
			return nperr.New(nperr.AlreadyExists, "manifest %s already exists", m.ID())
		}
		if err := s.backupFile(dest); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return nperr.Wrap(nperr.IOError, err, "stat %s", dest)
	}

	if m.BuildDate.IsZero() {
		m.BuildDate = time.Now().UTC()
	}
	if err := writeJSONAtomic(dest, m); err != nil {
		return err
	}

	entries, err := s.ReadIndex()
	if err != nil {
		return err
	}
	entries = removeEntry(entries, m.Name, m.Version)
	entries = append(entries, manifest.EntryFor(m))
	if err := s.writeIndex(entries); err != nil {
		return err
	}
	nplog.Info(nplog.DB, "db_add %s", m.ID())
	return nil
}

func removeEntry(entries []manifest.Entry, name, version string) []manifest.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Name == name && e.Version == version {
			continue
		}
		out = append(out, e)
	}
	return out
}

// backupFile moves an existing manifest file to the backup area under a
// timestamp prefix, then prunes old backups for the same package beyond
// keepBack.
func (s *Store) backupFile(path string) error {
	base := filepath.Base(path)
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(s.backupDir, stamp+"-"+base)
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating backup dir")
	}
	if err := os.Rename(path, dest); err != nil {
		return nperr.Wrap(nperr.IOError, err, "backing up %s", path)
	}
	return s.rotateBackups(base)
}

// rotateBackups keeps only the s.keepBack most recent backups whose
// filename ends in "-"+baseName.
func (s *Store) rotateBackups(baseName string) error {
	if s.keepBack <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "listing backups")
	}
	var matches []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "-"+baseName) {
			matches = append(matches, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, name := range matches[min(len(matches), s.keepBack):] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			return nperr.Wrap(nperr.IOError, err, "pruning backup %s", name)
		}
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RemoveOptions controls Remove's behavior.
type RemoveOptions struct {
	Force bool
}

// Remove resolves query (either "name-version" or bare "name") to one or
// more manifests and moves each to backup, updating the index. If query
// resolves to more than one manifest and Force is false, it fails with
// nperr.Ambiguous.
func (s *Store) Remove(query string, opts RemoveOptions) ([]string, error) {
	matches, err := s.resolve(query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nperr.New(nperr.NotFound, "no manifest matches %q", query)
	}
	if len(matches) > 1 && !opts.Force {
		return nil, nperr.New(nperr.Ambiguous, "query %q matches %d manifests", query, len(matches))
	}

	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range matches {
		if err := s.backupFile(s.manifestPath(e.Manifest)); err != nil {
			return nil, err
		}
		entries = removeEntry(entries, e.Name, e.Version)
		removed = append(removed, e.Name+"-"+e.Version)
	}
	if err := s.writeIndex(entries); err != nil {
		return nil, err
	}
	for _, id := range removed {
		nplog.Info(nplog.DB, "db_remove %s", id)
	}
	return removed, nil
}

// resolve looks up query among the index entries: an exact "name-version"
// match is preferred; absent that, every entry whose Name matches query
// is returned.
func (s *Store) resolve(query string) ([]manifest.Entry, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	if id, ok := identifier.ParseLoose(query); ok {
		for _, e := range entries {
			if e.Name == id.Name && e.Version == id.Version {
				return []manifest.Entry{e}, nil
			}
		}
	}
	var byName []manifest.Entry
	for _, e := range entries {
		if e.Name == query {
			byName = append(byName, e)
		}
	}
	return byName, nil
}

// Query projection modes.
type Projection int

const (
	ProjectFields Projection = iota
	ProjectFiles
	ProjectRaw
)

// Query resolves query and returns the matching full manifests.
func (s *Store) Query(query string) ([]*manifest.Manifest, error) {
	matches, err := s.resolve(query)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nperr.New(nperr.NotFound, "no manifest matches %q", query)
	}
	out := make([]*manifest.Manifest, 0, len(matches))
	for _, e := range matches {
		m, err := s.readManifest(e.Manifest)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) readManifest(filename string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(filename))
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "reading manifest %s", filename)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing manifest %s", filename)
	}
	return &m, nil
}

// ListOptions filters List.
type ListOptions struct {
	Stage string
	Count int // 0 means unlimited
}

// List iterates the index, optionally filtered by stage and truncated to
// Count entries.
func (s *Store) List(opts ListOptions) ([]manifest.Entry, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	var out []manifest.Entry
	for _, e := range entries {
		if opts.Stage != "" && e.Stage != opts.Stage {
			continue
		}
		out = append(out, e)
		if opts.Count > 0 && len(out) >= opts.Count {
			break
		}
	}
	return out, nil
}

// Revdeps returns every "name-version" whose depends.build ∪
// depends.run contains name, or whose provides contains name, matching
// §4.A/§4.B's unqualified-name edge relation.
func (s *Store) Revdeps(name string) ([]string, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	seen := stringset.New()
	for _, e := range entries {
		if dependsOn(e, name) || containsString(e.Provides, name) {
			seen.Add(e.Name + "-" + e.Version)
		}
	}
	out := seen.Values()
	sort.Strings(out)
	return out, nil
}

func dependsOn(e manifest.Entry, name string) bool {
	for _, d := range append(append([]string{}, e.Depends.Build...), e.Depends.Run...) {
		if identifier.ParsePredicate(d).Name == name {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Provides returns every "name-version" that owns path, via a linear
// scan of every manifest, per §4.A.
func (s *Store) Provides(path string) ([]string, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		m, err := s.readManifest(e.Manifest)
		if err != nil {
			return nil, err
		}
		for _, f := range m.Files {
			if f.Path == path {
				out = append(out, m.ID())
				break
			}
		}
	}
	return out, nil
}

// Orphans returns every manifest whose Revdeps(name) is empty,
// deduplicated to the highest version per name.
func (s *Store) Orphans() ([]string, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	highest := map[string]string{}
	for _, e := range entries {
		revdeps, err := s.Revdeps(e.Name)
		if err != nil {
			return nil, err
		}
		if len(revdeps) != 0 {
			continue
		}
		if cur, ok := highest[e.Name]; !ok || identifier.Compare(e.Version, cur) > 0 {
			highest[e.Name] = e.Version
		}
	}
	out := make([]string, 0, len(highest))
	for name, version := range highest {
		out = append(out, name+"-"+version)
	}
	sort.Strings(out)
	return out, nil
}

// Search performs a substring match on name, description, and origin.
func (s *Store) Search(term string) ([]manifest.Entry, error) {
	entries, err := s.ReadIndex()
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	var out []manifest.Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name), term) ||
			strings.Contains(strings.ToLower(e.Description), term) ||
			strings.Contains(strings.ToLower(e.Origin), term) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Size sums the on-disk size of query's owned files, preferring the
// recorded manifest size and falling back to an os.Stat of the live
// file when the manifest carries no size metadata.
func (s *Store) Size(query string) (int64, error) {
	matches, err := s.Query(query)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range matches {
		for _, f := range m.Files {
			if f.Size > 0 {
				total += f.Size
				continue
			}
			if info, err := os.Stat(f.Path); err == nil {
				total += info.Size()
			}
		}
	}
	return total, nil
}

// Verify asserts, for each file owned by the manifests matching query,
// that the file exists and, if a checksum is recorded, that it matches.
func (s *Store) Verify(query string) ([]VerifyIssue, error) {
	matches, err := s.Query(query)
	if err != nil {
		return nil, err
	}
	var issues []VerifyIssue
	for _, m := range matches {
		for _, f := range m.Files {
			info, err := os.Lstat(f.Path)
			if err != nil {
				issues = append(issues, VerifyIssue{Package: m.ID(), Path: f.Path, Reason: "missing"})
				continue
			}
			if f.SHA256 == "" || !info.Mode().IsRegular() {
				continue
			}
			sum, err := sha256File(f.Path)
			if err != nil {
				issues = append(issues, VerifyIssue{Package: m.ID(), Path: f.Path, Reason: "unreadable"})
				continue
			}
			if sum != f.SHA256 {
				issues = append(issues, VerifyIssue{Package: m.ID(), Path: f.Path, Reason: "checksum mismatch"})
			}
		}
	}
	return issues, nil
}

// VerifyIssue describes one inconsistency found by Verify.
type VerifyIssue struct {
	Package string
	Path    string
	Reason  string
}

func (v VerifyIssue) String() string {
	return fmt.Sprintf("%s: %s: %s", v.Package, v.Path, v.Reason)
}

// Repair runs Verify against query and drops the manifest entries for
// every "missing" file it finds, rewriting the owning manifest(s) in
// place. Checksum mismatches and unreadable files are reported but left
// alone, since the file is still present and repairing it means
// re-installing, not editing metadata. Every drop is logged; nothing is
// silent.
func (s *Store) Repair(query string) ([]VerifyIssue, error) {
	issues, err := s.Verify(query)
	if err != nil {
		return nil, err
	}
	missing := map[string]map[string]bool{}
	for _, i := range issues {
		if i.Reason != "missing" {
			continue
		}
		if missing[i.Package] == nil {
			missing[i.Package] = map[string]bool{}
		}
		missing[i.Package][i.Path] = true
	}
	if len(missing) == 0 {
		return issues, nil
	}

	matches, err := s.Query(query)
	if err != nil {
		return issues, err
	}
	for _, m := range matches {
		miss := missing[m.ID()]
		if len(miss) == 0 {
			continue
		}
		kept := m.Files[:0:0]
		for _, f := range m.Files {
			if miss[f.Path] {
				continue
			}
			kept = append(kept, f)
		}
		m.Files = kept
		if err := s.Add(m, AddOptions{Replace: true}); err != nil {
			return issues, err
		}
		nplog.Info(nplog.DB, "db_repair %s: dropped %d missing file entr(y/ies)", m.ID(), len(miss))
	}
	return issues, nil
}

// Reindex rebuilds the index from the manifests present on disk,
// discarding whatever index.json currently holds.
func (s *Store) Reindex() error {
	var entries []manifest.Entry
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || d.Name() == "index.json" {
			return nil
		}
		m, rerr := s.readManifest(d.Name())
		if rerr != nil {
			return rerr
		}
		entries = append(entries, manifest.EntryFor(m))
		return nil
	})
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "walking store directory")
	}
	nplog.Info(nplog.DB, "db_reindex %d manifests", len(entries))
	return s.writeIndex(entries)
}
