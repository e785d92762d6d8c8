package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBasenameFromURL(t *testing.T) {
	if got := basename("https://example.org/src/alpha-1.0.tar.zst"); got != "alpha-1.0.tar.zst" {
		t.Fatalf("got %q", got)
	}
}

func TestFetchOneLocalFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "alpha-1.0.tar.zst")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	cache := filepath.Join(dir, "cache")
	f := New(cache, 1)
	if err := f.FetchOne(context.Background(), "file://"+src, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(f.CachePath("file://" + src))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("got %q", data)
	}
}

func TestFetchOneReusesCache(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "alpha-1.0.tar.zst")
	if err := os.WriteFile(src, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	cache := filepath.Join(dir, "cache")
	f := New(cache, 1)
	if err := f.FetchOne(context.Background(), "file://"+src, false); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(src, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := f.FetchOne(context.Background(), "file://"+src, false); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(f.CachePath("file://" + src))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected cached v1, got %q", data)
	}
}

func TestFetchAllParallel(t *testing.T) {
	dir := t.TempDir()
	var jobs []Job
	for i := 0; i < 3; i++ {
		src := filepath.Join(dir, "pkg"+string(rune('a'+i))+".tar")
		if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, Job{PkgID: "pkg", Sources: []string{"file://" + src}})
	}
	f := New(filepath.Join(dir, "cache"), 1)
	if err := f.FetchAll(context.Background(), jobs, 2, false); err != nil {
		t.Fatal(err)
	}
}
