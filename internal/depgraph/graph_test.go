package depgraph

import (
	"testing"

	"github.com/fcanata00/newpkg/internal/manifest"
)

func entry(name, version string, deps ...string) manifest.Entry {
	return manifest.Entry{Name: name, Version: version, Depends: manifest.Depends{Run: deps}}
}

func TestOrderLeavesFirst(t *testing.T) {
	g := Build([]manifest.Entry{
		entry("libc", "1.0"),
		entry("zlib", "1.0", "libc"),
		entry("app", "1.0", "zlib", "libc"),
	})
	order, err := g.Order("app", nil)
	if err != nil {
		t.Fatal(err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if pos["libc"] > pos["zlib"] || pos["zlib"] > pos["app"] {
		t.Fatalf("expected leaves-first order, got %v", order)
	}
}

func TestOrderDetectsCycle(t *testing.T) {
	g := Build([]manifest.Entry{
		entry("a", "1.0", "b"),
		entry("b", "1.0", "a"),
	})
	_, err := g.Order("a", nil)
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestOrderSkipsInstalled(t *testing.T) {
	g := Build([]manifest.Entry{
		entry("libc", "1.0"),
		entry("app", "1.0", "libc"),
	})
	order, err := g.Order("app", map[string]bool{"libc": true})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range order {
		if n == "libc" {
			t.Fatal("libc should have been skipped")
		}
	}
}

func TestRevdeps(t *testing.T) {
	g := Build([]manifest.Entry{
		entry("libc", "1.0"),
		entry("zlib", "1.0", "libc"),
		entry("app", "1.0", "zlib"),
	})
	revdeps := g.Revdeps("libc")
	if len(revdeps) != 2 {
		t.Fatalf("got %v", revdeps)
	}
}

func TestOrphans(t *testing.T) {
	g := Build([]manifest.Entry{
		entry("libc", "1.0"),
		entry("zlib", "1.0", "libc"),
	})
	orphans := g.Orphans(nil)
	if len(orphans) != 1 || orphans[0] != "zlib" {
		t.Fatalf("got %v", orphans)
	}
}

func TestProvidesResolvesEdge(t *testing.T) {
	providing := manifest.Entry{Name: "openssl", Version: "3.0", Provides: []string{"ssl"}}
	dependent := entry("app", "1.0", "ssl")
	g := Build([]manifest.Entry{providing, dependent})
	order, err := g.Order("app", nil)
	if err != nil {
		t.Fatal(err)
	}
	if order[0] != "openssl" {
		t.Fatalf("got %v", order)
	}
}
