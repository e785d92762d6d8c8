package vcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRepo(t *testing.T) {
	dir := t.TempDir()
	require.False(t, IsRepo(dir), "expected non-repo dir to report false")
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0755))
	require.True(t, IsRepo(dir), "expected dir with .git to report true")
}

func TestCommitSkipsNonRepo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Commit(dir, "nothing to see here"))
}

func TestCommitSkipsEmptyDir(t *testing.T) {
	require.NoError(t, Commit("", "msg"))
}
