package manifestdb

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
)

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Backup tars and gzips the manifest directory into a rotated archive
// under s.backupDir, named by timestamp, per §4.A's backup()/restore()
// pair.
func (s *Store) Backup() (string, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(s.backupDir, "db-"+stamp+".tar.gz")
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", nperr.Wrap(nperr.IOError, err, "creating backup dir")
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", nperr.Wrap(nperr.IOError, err, "creating backup archive %s", dest)
	}
	defer func() { _ = f.Close() }()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	err = filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(s.dir, path)
		if rerr != nil {
			return rerr
		}
		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		hdr, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return herr
		}
		hdr.Name = rel
		if werr := tw.WriteHeader(hdr); werr != nil {
			return werr
		}
		src, oerr := os.Open(path)
		if oerr != nil {
			return oerr
		}
		defer func() { _ = src.Close() }()
		_, cerr := io.Copy(tw, src)
		return cerr
	})
	if err != nil {
		_ = tw.Close()
		_ = gw.Close()
		return "", nperr.Wrap(nperr.IOError, err, "writing backup archive")
	}
	if err := tw.Close(); err != nil {
		return "", nperr.Wrap(nperr.IOError, err, "closing backup tar writer")
	}
	if err := gw.Close(); err != nil {
		return "", nperr.Wrap(nperr.IOError, err, "closing backup gzip writer")
	}
	nplog.Info(nplog.DB, "db_backup %s", dest)
	return dest, s.rotateDBBackups()
}

// rotateDBBackups keeps only s.keepBack most recent "db-*.tar.gz" backups.
func (s *Store) rotateDBBackups() error {
	if s.keepBack <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "listing backups")
	}
	var matches []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "db-") && strings.HasSuffix(e.Name(), ".tar.gz") {
			matches = append(matches, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, name := range matches[min(len(matches), s.keepBack):] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			return nperr.Wrap(nperr.IOError, err, "pruning db backup %s", name)
		}
	}
	return nil
}

// Restore extracts archive over the manifest directory. The current
// directory is first moved aside as ".old.TIMESTAMP" and only removed
// once extraction succeeds and Reindex has rebuilt the index, keeping
// the prior state recoverable on failure.
func (s *Store) Restore(archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "opening backup archive %s", archive)
	}
	defer func() { _ = f.Close() }()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nperr.Wrap(nperr.Malformed, err, "reading gzip backup %s", archive)
	}
	defer func() { _ = gr.Close() }()

	stamp := time.Now().UTC().Format("20060102T150405Z")
	oldDir := s.dir + ".old." + stamp
	if err := os.Rename(s.dir, oldDir); err != nil && !os.IsNotExist(err) {
		return nperr.Wrap(nperr.IOError, err, "moving aside current store directory")
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "recreating store directory")
	}

	tr := tar.NewReader(gr)
	for {
		hdr, terr := tr.Next()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			_ = os.RemoveAll(s.dir)
			_ = os.Rename(oldDir, s.dir)
			return nperr.Wrap(nperr.Malformed, terr, "reading backup tar entry")
		}
		dest := filepath.Join(s.dir, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nperr.Wrap(nperr.IOError, err, "creating %s", filepath.Dir(dest))
		}
		out, oerr := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if oerr != nil {
			return nperr.Wrap(nperr.IOError, oerr, "writing %s", dest)
		}
		if _, cerr := io.Copy(out, tr); cerr != nil {
			_ = out.Close()
			return nperr.Wrap(nperr.IOError, cerr, "writing %s", dest)
		}
		_ = out.Close()
	}

	if err := s.Reindex(); err != nil {
		return err
	}
	if err := os.RemoveAll(oldDir); err != nil {
		nplog.Warning(nplog.DB, "failed to remove %s after restore: %v", oldDir, err)
	}
	nplog.Info(nplog.DB, "db_restore %s", archive)
	return nil
}
