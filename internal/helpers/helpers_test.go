package helpers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeString(path, s string) error {
	return os.WriteFile(path, []byte(s), 0644)
}

func readString(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func TestRunCommandOutputSuccess(t *testing.T) {
	const msg = "Hello, world!"
	const fail = "This is not working!"
	// Prints both in stdout and stderr.
	out, err := RunCommandOutput("bash", "-c", fmt.Sprintf("echo -n %q; echo -n %q >&2", msg, fail))
	if err != nil {
		t.Fatal(err)
	}
	// Output contains only stdout.
	if out.String() != msg {
		t.Fatalf("unexpected output %q instead of %q", out.String(), msg)
	}
}

func TestRunCommandOutputFailure(t *testing.T) {
	out, err := RunCommandOutput("bash", "-c", "export OK=OK; export FAIL=FAIL; echo -n $OK$OK; echo -n $FAIL$FAIL >&2; false")
	if err == nil {
		t.Fatal("unexpected success when running command")
	}
	if !strings.Contains(out.String(), "OKOK") {
		t.Errorf("error doesn't contain the stdout of the program")
	}
	if !strings.Contains(err.Error(), "FAILFAIL") {
		t.Errorf("error doesn't contain the stderr of the program")
	}
}

func TestCopyFileAndNoOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := writeString(src, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(dst, src); err != nil {
		t.Fatal(err)
	}
	got, err := readString(dst)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	// CopyFileNoOverwrite must fail when the destination exists.
	if err := CopyFileNoOverwrite(dst, src); err == nil {
		t.Fatal("expected error copying onto existing file")
	}
}

func TestCommandAvailable(t *testing.T) {
	if !CommandAvailable("bash") {
		t.Fatal("expected bash to be available in test environment")
	}
	if CommandAvailable("definitely-not-a-real-command-xyz") {
		t.Fatal("expected fake command to be unavailable")
	}
}
