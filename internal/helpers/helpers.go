// Package helpers collects small, dependency-light utilities shared by
// every pipeline component: file copying, archive unpacking, external
// command execution, and plain HTTP download. Kept deliberately free of
// any knowledge of manifests, recipes, or stages.
package helpers

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ReadFileAndSplit tokenizes the given file and converts it into a slice
// split by the newline character.
func ReadFileAndSplit(filename string) ([]string, error) {
	builder, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	data := string(builder)
	lines := strings.Split(data, "\n")

	return lines, nil
}

// UnpackFile unpacks a .tar or .tar.gz/.tgz file to a given directory.
// Roughly equivalent to "tar -x[z]f file -C dest". Does not overwrite;
// returns an error if the file being unpacked already exists.
func UnpackFile(file string, dest string) error {
	fr, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() {
		_ = fr.Close()
	}()

	var tr *tar.Reader

	if strings.HasSuffix(file, ".tar.gz") || strings.HasSuffix(file, ".tgz") {
		gzr, err := gzip.NewReader(fr)
		if err != nil {
			return errors.Wrapf(err, "decompressing tarball: %s", file)
		}
		defer func() {
			_ = gzr.Close()
		}()
		tr = tar.NewReader(gzr)
	} else {
		tr = tar.NewReader(fr)
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrapf(err, "reading contents of tarball: %s", file)
		}

		out := filepath.Join(dest, hdr.Name)

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader:
			continue
		case tar.TypeDir:
			if err = os.MkdirAll(out, os.FileMode(hdr.Mode)); err != nil {
				return errors.Wrapf(err, "unpacking directory: %s", out)
			}
		case tar.TypeReg:
			if err = os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return errors.Wrapf(err, "unpacking file: %s", out)
			}
			of, err := os.OpenFile(out, os.O_CREATE|os.O_RDWR|os.O_EXCL, os.FileMode(hdr.Mode))
			if err != nil {
				return errors.Wrapf(err, "unpacking file: %s", out)
			}

			_, err = io.Copy(of, tr)
			_ = of.Close()
			if err != nil {
				return errors.Wrapf(err, "unpacking file: %s", out)
			}
		case tar.TypeSymlink:
			if err = os.Symlink(hdr.Linkname, out); err != nil {
				return errors.Wrapf(err, "unpacking symlink: %s", out)
			}
		default:
			return errors.Errorf("unpacking file: %s", out)
		}
	}
	return nil
}

// CopyFile copies a file, overwriting the destination if it exists.
func CopyFile(dest, src string) error {
	return copyFileWithFlags(dest, src, os.O_RDWR|os.O_CREATE|os.O_TRUNC, true, true, false)
}

// CopyFileNoOverwrite copies a file only if the destination file does not exist.
func CopyFileNoOverwrite(dest, src string) error {
	return copyFileWithFlags(dest, src, os.O_RDWR|os.O_CREATE|os.O_EXCL, true, true, false)
}

// CopyFileWithOptions copies a file, overwriting the destination if it exists,
// and allows options to be set for following links, syncing to disk, or
// preserving file permissions.
func CopyFileWithOptions(dest, src string, resolveLinks, sync, useSrcPerms bool) error {
	return copyFileWithFlags(dest, src, os.O_RDWR|os.O_CREATE|os.O_TRUNC, resolveLinks, sync, useSrcPerms)
}

func copyFileWithFlags(dest, src string, flags int, resolveLinks, sync, useSrcPerms bool) error {
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !resolveLinks && (srcInfo.Mode()&os.ModeSymlink) == os.ModeSymlink {
		srcLink, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(srcLink, dest)
	}

	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = source.Close()
	}()

	var perms os.FileMode
	if useSrcPerms {
		perms = srcInfo.Mode()
	} else {
		perms = 0666
	}

	destination, err := os.OpenFile(dest, flags, perms)
	if err != nil {
		return err
	}
	defer func() {
		_ = destination.Close()
	}()

	_, err = io.Copy(destination, source)
	if err != nil {
		return err
	}

	if sync {
		return destination.Sync()
	}
	return nil
}

// RunCommand runs the given command with args and prints output.
func RunCommand(cmdname string, args ...string) error {
	return RunCommandInDir("", cmdname, args...)
}

// RunCommandInDir runs the given command with args in dir (or the current
// directory if dir is empty) and prints output.
func RunCommandInDir(dir string, cmdname string, args ...string) error {
	cmd := exec.Command(cmdname, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err != nil {
		return errors.Wrapf(err, "failed to execute %s", strings.Join(cmd.Args, " "))
	}
	return nil
}

// Git runs git with args in dir. IMPORTANT: args must be validated by
// the caller, as to avoid cases where input is received from a third
// party source that could inject additional flags or paths.
func Git(dir string, args ...string) error {
	return RunCommandInDir(dir, "git", args...)
}

// RunCommandTimeout runs the given command with a timeout and args and does
// not print command output. A timeout of 0 means no timeout.
func RunCommandTimeout(timeout int, cmdname string, args ...string) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, cmdname, args...)
	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return errors.Errorf("command %s timed out", cmdname)
	}

	return err
}

// RunCommandOutput executes the command with arguments and stores its
// output in memory. If the command succeeds it returns that output; if it
// fails, the returned error contains both the stdout and stderr streams.
func RunCommandOutput(cmdname string, args ...string) (*bytes.Buffer, error) {
	return RunCommandOutputEnv(cmdname, args, nil)
}

// RunCommandOutputEnv executes the command with arguments and environment
// and stores its output in memory.
func RunCommandOutputEnv(cmdname string, args []string, envs []string) (*bytes.Buffer, error) {
	cmd := exec.Command(cmdname, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.Env = append(os.Environ(), envs...)
	runError := cmd.Run()

	if runError != nil {
		var buf bytes.Buffer
		logger := log.New(&buf, "", log.Ldate|log.Ltime)
		logger.Printf("failed to execute %s", strings.Join(cmd.Args, " "))
		if outBuf.Len() > 0 {
			logger.Printf("\nSTDOUT:\n%s", outBuf.Bytes())
		}
		if errBuf.Len() > 0 {
			logger.Printf("\nSTDERR:\n%s", errBuf.Bytes())
		}
		return &outBuf, errors.Wrap(runError, buf.String())
	}
	return &outBuf, nil
}

// CommandAvailable reports whether name can be found on $PATH.
func CommandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ListVisibleFiles reads the directory named by dirname and returns a
// sorted list of names, excluding dotfiles.
func ListVisibleFiles(dirname string) ([]string, error) {
	f, err := os.Open(dirname)
	if err != nil {
		return nil, err
	}

	list, err := f.Readdirnames(-1)
	_ = f.Close()
	if err != nil && err != io.EOF {
		return nil, err
	}
	filtered := make([]string, 0, len(list))
	for i := range list {
		if list[i][0] != '.' {
			filtered = append(filtered, list[i])
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

func getDownloadFileReader(url string) (io.ReadCloser, error) {
	resp, err := http.Get(url) // #nosec G107 -- source URLs come from trusted metafiles
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("got status %q when downloading: %s", resp.Status, url)
	}

	return resp.Body, nil
}

// DownloadFile downloads a file from url and writes it to filePath.
func DownloadFile(url string, filePath string) (err error) {
	fr, err := getDownloadFileReader(url)
	if err != nil {
		return errors.Wrap(err, "failed to download file")
	}
	defer func() {
		_ = fr.Close()
	}()

	out, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer func() {
		cerr := out.Close()
		if err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, fr)
	if err != nil {
		if rmErr := os.Remove(filePath); rmErr != nil {
			return errors.Wrap(err, rmErr.Error())
		}
		return err
	}

	return nil
}
