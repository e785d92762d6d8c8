package nperr

import (
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(NotFound, "package %s not found", "alpha")
	if KindOf(err) != NotFound {
		t.Fatalf("got kind %v, want NotFound", KindOf(err))
	}
	if !Is(err, NotFound) {
		t.Fatal("Is(err, NotFound) = false")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(IOError, io.ErrUnexpectedEOF, "reading manifest")
	if KindOf(err) != IOError {
		t.Fatalf("got kind %v, want IOError", KindOf(err))
	}
	if !containsEOF(err.Error()) {
		t.Fatalf("error message lost the cause: %s", err.Error())
	}
}

func containsEOF(s string) bool {
	for i := 0; i+len("EOF") <= len(s); i++ {
		if s[i:i+3] == "EOF" {
			return true
		}
	}
	return false
}

func TestKindOfUnkinded(t *testing.T) {
	if KindOf(io.EOF) != 0 {
		t.Fatal("expected zero kind for a plain error")
	}
}
