// Package isolation implements the isolation wrapper state machine: a
// per-component Unbooted/Booted cycle that lazily boots
// one of three controllers, restarts on query failure, and evicts an idle
// process on heartbeat.
package isolation

import (
	"context"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/namedpipe"
	"github.com/v9-labs/v9worker/internal/workerrors"
)

// ExpiryDuration is how long a booted process may sit idle before
// heartbeat() evicts it.
const ExpiryDuration = 10 * time.Minute

// ProcessHandle is a booted backend: something that can be queried once
// and torn down once. Implemented by pipedHandle (RawInterpreter) and
// containerHandle (ImageArchive, PooledScript).
type ProcessHandle interface {
	// Query checks whether the primary subprocess has already exited
	// before delegating to the pipe's query.
	Query(req string) (string, error)
	// Close best-effort terminates any owned subprocess(es) and releases
	// the pipe. Errors are logged by the caller, never fatal.
	Close() error
}

// Controller is the cold-start factory for one ExecutionMethod. Boot
// allocates whatever backend-specific resources are needed and returns a
// fresh ProcessHandle.
type Controller interface {
	Boot(ctx context.Context) (ProcessHandle, error)
}

// Wrapper is the per-component state machine: Unbooted when handle is nil,
// Booted otherwise.
type Wrapper struct {
	logger     hclog.Logger
	controller Controller

	handle       ProcessHandle
	lastAccessed time.Time
}

// New wraps an already-constructed Controller in an Unbooted Wrapper. No
// subprocess is started; the controller is first booted by Query.
func New(logger hclog.Logger, controller Controller) *Wrapper {
	return &Wrapper{
		logger:       logger.Named("isolation"),
		controller:   controller,
		lastAccessed: time.Now(),
	}
}

// Query serves one request/response cycle. It boots the backend on first
// call (or after a prior failure cleared the handle), delegates to the
// booted handle, and clears the handle on any query error so the next call
// re-boots from scratch.
func (w *Wrapper) Query(ctx context.Context, req string) (string, error) {
	w.lastAccessed = time.Now()

	if w.handle == nil {
		// The booted process outlives the request that triggered the boot,
		// so it must not be killed when that request's context ends.
		handle, err := w.controller.Boot(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		w.handle = handle
	}

	resp, err := w.handle.Query(req)
	if err != nil {
		_ = w.handle.Close()
		w.handle = nil
		return "", err
	}
	return resp, nil
}

// Heartbeat clears the handle if it has been booted and idle past
// ExpiryDuration. Callers are expected to hold whatever per-component lock
// serialises this against a concurrent Query.
func (w *Wrapper) Heartbeat() {
	if w.handle == nil {
		return
	}
	if time.Since(w.lastAccessed) > ExpiryDuration {
		w.logger.Debug("evicting idle process")
		_ = w.handle.Close()
		w.handle = nil
	}
}

// IsBooted reports whether a process handle is currently live.
func (w *Wrapper) IsBooted() bool { return w.handle != nil }

// Close unconditionally tears down a booted process, regardless of idle
// time. Used when the owning component is deactivated outright, as
// opposed to Heartbeat's idle-only eviction.
func (w *Wrapper) Close() error {
	if w.handle == nil {
		return nil
	}
	err := w.handle.Close()
	w.handle = nil
	return err
}

func requireLinux(reason string) error {
	if runtime.GOOS != "linux" {
		return workerrors.UnsupportedPlatform(reason)
	}
	return nil
}

// pipedHandle backs RawInterpreter: a subprocess plus the NamedPipe it was
// handed.
type pipedHandle struct {
	subprocess *containercli.SubprocessHandle
	pipe       *namedpipe.NamedPipe
	stdout     interface{ Close() error }
	stderr     interface{ Close() error }
}

func (h *pipedHandle) Query(req string) (string, error) {
	if exited, code := h.subprocess.Exited(); exited {
		return "", workerrors.SubprocessTerminated(code)
	}
	return h.pipe.Query(req)
}

func (h *pipedHandle) Close() error {
	err := h.subprocess.Terminate()
	if h.stdout != nil {
		h.stdout.Close()
	}
	if h.stderr != nil {
		h.stderr.Close()
	}
	h.pipe.Close()
	return err
}

// containerHandle backs ImageArchive (no helper subprocess) and
// PooledScript (with one): a Container plus its optional in-container
// helper exec.
type containerHandle struct {
	container *containercli.Container
	helper    *containercli.SubprocessHandle
}

func (h *containerHandle) Query(req string) (string, error) {
	if exited, code := h.container.RunHandle().Exited(); exited {
		return "", workerrors.SubprocessTerminated(code)
	}
	return h.container.Pipe().Query(req)
}

func (h *containerHandle) Close() error {
	if h.helper != nil {
		_ = h.helper.Terminate()
	}
	err := h.container.Stop(context.Background())
	h.container.Pipe().Close()
	return err
}
