package containercli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeCliScript writes a tiny shell script standing in for the container
// CLI binary, so tests never depend on a real container runtime being
// installed.
func fakeCliScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakecli")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func TestCallSyncSuccess(t *testing.T) {
	bin := fakeCliScript(t, `echo "out:$*"; echo "err" 1>&2; exit 0`)
	a := New(bin)

	code, stdout, stderr, err := a.CallSync(context.Background(), []string{"ps"})
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if stdout != "out:ps\n" {
		t.Fatalf("stdout = %q", stdout)
	}
	if stderr != "err\n" {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestCallSyncNonZeroExit(t *testing.T) {
	bin := fakeCliScript(t, `echo "boom" 1>&2; exit 7`)
	a := New(bin)

	code, _, stderr, err := a.CallSync(context.Background(), []string{"run"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
	if stderr != "boom\n" {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestLoadImageParsesTag(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "image.tar")
	if err := os.WriteFile(archive, []byte("not a real tarball"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	bin := fakeCliScript(t, `echo "Loaded image: python:3.7-alpine"`)
	a := New(bin)

	tag, deleteErr, err := a.LoadImage(context.Background(), archive)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if tag != "python:3.7-alpine" {
		t.Fatalf("tag = %q", tag)
	}
	if deleteErr != nil {
		t.Fatalf("delete of archive failed: %v", deleteErr)
	}
	if _, statErr := os.Stat(archive); !os.IsNotExist(statErr) {
		t.Fatal("archive should have been removed")
	}
}

func TestLoadImageUnrecognisedOutput(t *testing.T) {
	bin := fakeCliScript(t, `echo "something unexpected"`)
	a := New(bin)

	_, _, err := a.LoadImage(context.Background(), filepath.Join(t.TempDir(), "missing.tar"))
	if err == nil {
		t.Fatal("expected error for unrecognised load output")
	}
}

func TestRunDetachedDoesNotBlock(t *testing.T) {
	bin := fakeCliScript(t, `sleep 5`)
	a := New(bin)

	handle, err := a.RunDetached(context.Background(), []string{"run"}, nil, nil)
	if err != nil {
		t.Fatalf("RunDetached: %v", err)
	}
	defer handle.Terminate()

	if exited, _ := handle.Exited(); exited {
		t.Fatal("process should still be running immediately after RunDetached")
	}
	if handle.Pid() <= 0 {
		t.Fatalf("Pid() = %d", handle.Pid())
	}
}

func TestExitedReflectsBackgroundReap(t *testing.T) {
	bin := fakeCliScript(t, `exit 3`)
	a := New(bin)

	handle, err := a.RunDetached(context.Background(), []string{"run"}, nil, nil)
	if err != nil {
		t.Fatalf("RunDetached: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if exited, code := handle.Exited(); exited {
			if code != 3 {
				t.Fatalf("code = %d, want 3", code)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Exited() never observed the process exiting")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
