package chroot

import "testing"

func TestNewRoot(t *testing.T) {
	c := New("/mnt/lfs")
	if c.Root() != "/mnt/lfs" {
		t.Fatalf("got %q", c.Root())
	}
	if len(c.mounted) != 0 {
		t.Fatalf("expected no mounts recorded before Enter, got %v", c.mounted)
	}
}

func TestMountPointsOrder(t *testing.T) {
	want := []string{"/dev", "/dev/pts", "/proc", "/sys", "/run"}
	if len(mountPoints) != len(want) {
		t.Fatalf("got %v", mountPoints)
	}
	for i, p := range want {
		if mountPoints[i] != p {
			t.Fatalf("got %v, want %v", mountPoints, want)
		}
	}
}

func TestLeaveWithoutEnterIsNoop(t *testing.T) {
	c := New("/mnt/lfs")
	if err := c.Leave(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
