package identifier

import "testing"

func TestParseLoose(t *testing.T) {
	cases := []struct {
		in      string
		name    string
		version string
		ok      bool
	}{
		{"alpha-1.0", "alpha", "1.0", true},
		{"lib-xml2-2.9.10", "lib-xml2", "2.9.10", true},
		{"noversion", "", "", false},
	}
	for _, c := range cases {
		id, ok := ParseLoose(c.in)
		if ok != c.ok {
			t.Fatalf("%q: ok = %v, want %v", c.in, ok, c.ok)
		}
		if !ok {
			continue
		}
		if id.Name != c.name || id.Version != c.version {
			t.Fatalf("%q: got %+v, want {%s %s}", c.in, id, c.name, c.version)
		}
	}
}

func TestCompareSemverAndFallback(t *testing.T) {
	if Compare("1.0.0", "1.2.0") >= 0 {
		t.Fatal("expected 1.0.0 < 1.2.0")
	}
	if Compare("r2020.03", "r2020.04") >= 0 {
		t.Fatal("expected lexical fallback to order non-semver strings")
	}
	if Compare("1.0.0", "1.0.0") != 0 {
		t.Fatal("expected equal versions to compare equal")
	}
}

func TestParsePredicate(t *testing.T) {
	p := ParsePredicate("lib>=1.0")
	if p.Name != "lib" || p.Op != ">=" || p.Version != "1.0" {
		t.Fatalf("got %+v", p)
	}
	p2 := ParsePredicate("bare-name")
	if p2.Name != "bare-name" || p2.Op != "" {
		t.Fatalf("got %+v", p2)
	}
}
