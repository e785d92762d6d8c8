package hooks

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestRunExecutesInSortedOrder(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	hookDir := filepath.Join(dir, string(PostInstall))
	if err := os.MkdirAll(hookDir, 0755); err != nil {
		t.Fatal(err)
	}

	logFile := filepath.Join(dir, "order.log")
	script := "#!/bin/sh\necho \"$0\" >> " + logFile + "\n"
	for _, name := range []string{"20-second", "10-first"} {
		path := filepath.Join(hookDir, name)
		if err := os.WriteFile(path, []byte(script), 0755); err != nil {
			t.Fatal(err)
		}
	}

	r := New(dir)
	results := r.Run(PostInstall, "alpha-1.0", "/path/to/alpha.yaml")
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Name != "10-first" || results[1].Name != "20-second" {
		t.Fatalf("got %+v", results)
	}
}

func TestRunMissingDirectoryIsNoop(t *testing.T) {
	r := New(t.TempDir())
	results := r.Run(PreInit, "alpha-1.0", "/path/to/alpha.yaml")
	if results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}
