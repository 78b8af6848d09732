// Package containercli is a thin, typed surface over an external container
// CLI binary. It shells out fresh for every call; it owns no connection
// pool or daemon client.
package containercli

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"

	"github.com/v9-labs/v9worker/internal/workerrors"
)

// Adapter is a typed wrapper around invocations of the container CLI
// binary (e.g. "docker", "podman", "nerdctl" — any CLI with compatible
// run/exec/load/cp subcommands).
type Adapter struct {
	// Binary is the CLI executable name or path.
	Binary string
}

// New returns an Adapter invoking binary.
func New(binary string) *Adapter {
	return &Adapter{Binary: binary}
}

// SubprocessHandle wraps a spawned *exec.Cmd, whether detached or waited on
// synchronously. A detached handle is reaped by a background goroutine as
// soon as it is created, so Exited reflects the process's real state
// instead of going stale until something happens to call Wait.
type SubprocessHandle struct {
	cmd *exec.Cmd

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitErr  error
	done     chan struct{}
}

// newSubprocessHandle wraps cmd (already started) and begins reaping it in
// the background.
func newSubprocessHandle(cmd *exec.Cmd) *SubprocessHandle {
	h := &SubprocessHandle{cmd: cmd, done: make(chan struct{})}
	go h.reap()
	return h
}

// reap waits for the process to exit and records its outcome. It is the
// sole caller of cmd.Wait for a detached handle.
func (h *SubprocessHandle) reap() {
	waitErr := h.cmd.Wait()
	code := 0
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Lock()
	h.exited = true
	h.exitCode = code
	h.waitErr = waitErr
	h.mu.Unlock()
	close(h.done)
}

// Pid returns the OS process id.
func (h *SubprocessHandle) Pid() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Exited reports whether the process has already exited, and with which
// code if so. It never blocks.
func (h *SubprocessHandle) Exited() (exited bool, code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited, h.exitCode
}

// Wait blocks until the process exits.
func (h *SubprocessHandle) Wait() error {
	<-h.done
	return h.waitErr
}

// Terminate best-effort kills the process and waits for the background
// reap to observe it exiting. A failure to kill triggers a detach: the
// process is simply abandoned rather than blocking the caller.
func (h *SubprocessHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil {
		// Detach: we tried, the child may already be gone or unkillable
		// from here. Never block the daemon on a hung child.
		return err
	}
	<-h.done
	return nil
}

// RunDetached spawns the CLI with args, directing stdio per stdout/stderr
// (nil discards to the OS null device), and returns without waiting.
func (a *Adapter) RunDetached(ctx context.Context, args []string, stdout, stderr io.Writer) (*SubprocessHandle, error) {
	cmd := exec.CommandContext(ctx, a.Binary, args...)
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = devNull()
	}
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = devNull()
	}
	if err := cmd.Start(); err != nil {
		return nil, workerrors.SubprocessStart(err)
	}
	return newSubprocessHandle(cmd), nil
}

// CallSync spawns the CLI with args, captures both streams, and waits.
// A non-zero exit produces a ContainerCli error.
func (a *Adapter) CallSync(ctx context.Context, args []string) (exitCode int, stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, a.Binary, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		if exitCode == 0 {
			exitCode = -1
		}
		return exitCode, stdout, stderr, workerrors.ContainerCli(exitCode, stdout, stderr)
	}
	if exitCode != 0 {
		return exitCode, stdout, stderr, workerrors.ContainerCli(exitCode, stdout, stderr)
	}
	return exitCode, stdout, stderr, nil
}

// loadImageTagPattern scrapes the image tag/digest out of the CLI's
// "load" output, e.g. "Loaded image: python:3.7-alpine" or
// "Loaded image ID: sha256:deadbeef".
var loadImageTagPattern = regexp.MustCompile(`Loaded image( ID)?: (?P<tag>.*)\n`)

// LoadImage loads a container image from a tar archive on disk and returns
// its tag. The archive is deleted on success; a delete failure is logged by
// the caller, never propagated (this function returns the delete error as
// deleteErr, separately from the load error err, so callers can choose to
// log-and-ignore).
func (a *Adapter) LoadImage(ctx context.Context, archivePath string) (tag string, deleteErr error, err error) {
	_, stdout, stderr, runErr := a.CallSync(ctx, []string{"load", "--quiet", "--input", archivePath})
	if runErr != nil {
		return "", nil, runErr
	}
	matches := loadImageTagPattern.FindStringSubmatch(stdout + "\n")
	if matches == nil {
		return "", nil, workerrors.Regex(errBadLoadOutput(stdout, stderr))
	}
	tagIdx := loadImageTagPattern.SubexpIndex("tag")
	tag = matches[tagIdx]

	deleteErr = os.Remove(archivePath)
	return tag, deleteErr, nil
}

func errBadLoadOutput(stdout, stderr string) error {
	return &loadOutputError{stdout: stdout, stderr: stderr}
}

type loadOutputError struct {
	stdout, stderr string
}

func (e *loadOutputError) Error() string {
	return "could not find 'Loaded image: <tag>' in CLI load output: stdout=" + e.stdout + " stderr=" + e.stderr
}

func devNull() *os.File {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil
	}
	return f
}
