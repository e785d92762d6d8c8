package manifest

import (
	"encoding/json"
	"testing"
)

func TestFileBareRoundTrip(t *testing.T) {
	f := File{Path: "/usr/bin/alpha"}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"/usr/bin/alpha"` {
		t.Fatalf("got %s, want bare string", b)
	}
	var back File
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != f {
		t.Fatalf("got %+v, want %+v", back, f)
	}
}

func TestFileWithMetadataRoundTrip(t *testing.T) {
	f := File{Path: "/usr/bin/alpha", SHA256: "deadbeef", Size: 42, Mode: 0755}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var back File
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != f {
		t.Fatalf("got %+v, want %+v", back, f)
	}
}

func TestManifestValidate(t *testing.T) {
	m := Manifest{Name: "alpha", Version: "1.0", Files: []File{{Path: "/usr/bin/alpha"}}}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m2 := Manifest{Version: "1.0", Files: []File{}}
	if err := m2.Validate(); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestManifestIDAndFileName(t *testing.T) {
	m := Manifest{Name: "alpha", Version: "1.0"}
	if m.ID() != "alpha-1.0" {
		t.Fatalf("got %q", m.ID())
	}
	if m.FileName() != "alpha-1.0.json" {
		t.Fatalf("got %q", m.FileName())
	}
}

func TestEntryFor(t *testing.T) {
	m := &Manifest{Name: "alpha", Version: "1.0", Provides: []string{"alpha-lib"}}
	e := EntryFor(m)
	if e.Manifest != "alpha-1.0.json" {
		t.Fatalf("got %q", e.Manifest)
	}
	if len(e.Provides) != 1 || e.Provides[0] != "alpha-lib" {
		t.Fatalf("got %+v", e.Provides)
	}
}
