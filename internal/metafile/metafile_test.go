package metafile

import "testing"

const sample = `
name: alpha
version: "1.0"
sources:
  - file:///tmp/src.tar.zst
depends:
  build: ["make"]
  run: ["libc"]
provides: ["alpha-lib"]
`

func TestParseDefaults(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if r.Stage != StageNormal {
		t.Fatalf("got stage %q, want %q", r.Stage, StageNormal)
	}
	if r.InstallPrefix != "/usr" {
		t.Fatalf("got prefix %q, want /usr", r.InstallPrefix)
	}
	if len(r.Commands.Build) == 0 {
		t.Fatal("expected default build command")
	}
}

func TestParseMissingName(t *testing.T) {
	_, err := Parse([]byte("version: \"1.0\"\n"))
	if err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestInterpolate(t *testing.T) {
	got := Interpolate("make -j@MAKEJOBS@ DESTDIR=@DESTDIR@ install", 4, "/tmp/dest")
	want := "make -j4 DESTDIR=/tmp/dest install"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUnknownTopLevelKeysIgnored(t *testing.T) {
	doc := sample + "\nfuture_field: { anything: true }\n"
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error for unknown key: %v", err)
	}
	if r.Name != "alpha" {
		t.Fatalf("got name %q", r.Name)
	}
}
