package isolation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/logs"
	"github.com/v9-labs/v9worker/internal/namedpipe"
	"github.com/v9-labs/v9worker/internal/pool"
)

// RawInterpreterController boots a host interpreter directly on a
// filesystem path, with no isolation. Development use only.
type RawInterpreterController struct {
	logger         hclog.Logger
	interpreter    string
	executableFile string
	logTracker     *logs.Tracker
}

// NewRawInterpreterController constructs a controller invoking interpreter
// (e.g. "python3") on executableFile. Construction never fails: there is
// nothing to validate eagerly, since the executable path may only become
// valid (or invalid) later.
func NewRawInterpreterController(logger hclog.Logger, interpreter, executableFile string, logTracker *logs.Tracker) *RawInterpreterController {
	return &RawInterpreterController{
		logger:         logger.Named("raw-interpreter"),
		interpreter:    interpreter,
		executableFile: executableFile,
		logTracker:     logTracker,
	}
}

func (c *RawInterpreterController) Boot(ctx context.Context) (ProcessHandle, error) {
	pipe, err := namedpipe.New("")
	if err != nil {
		return nil, err
	}

	policy, err := c.logTracker.CreateAssociatedPolicy()
	if err != nil {
		pipe.Close()
		return nil, err
	}
	policy.Acquire()
	stdout, stderr, err := policy.Stdio()
	if err != nil {
		policy.Release()
		pipe.Close()
		return nil, err
	}

	handle, err := containercli.New(c.interpreter).RunDetached(ctx,
		[]string{"-u", c.executableFile, pipe.InPath(), pipe.OutPath()}, stdout, stderr)
	if err != nil {
		stdout.Close()
		stderr.Close()
		policy.Release()
		pipe.Close()
		return nil, err
	}

	return &pipedHandle{subprocess: handle, pipe: pipe, stdout: stdout, stderr: stderr}, nil
}

// ImageArchiveController loads a container image from a tar archive on
// construction, then runs that image bind-mounting the pipe's FIFOs on
// every boot.
type ImageArchiveController struct {
	logger  hclog.Logger
	adapter *containercli.Adapter
	tag     string
}

// NewImageArchiveController loads archivePath via adapter and returns a
// controller bound to the resulting image tag. Rejects non-Linux hosts.
func NewImageArchiveController(ctx context.Context, logger hclog.Logger, adapter *containercli.Adapter, archivePath string) (*ImageArchiveController, error) {
	if err := requireLinux("image-archive components require linux"); err != nil {
		return nil, err
	}
	tag, deleteErr, err := adapter.LoadImage(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	if deleteErr != nil {
		logger.Warn("failed to delete image archive after load", "path", archivePath, "error", deleteErr)
	}
	return &ImageArchiveController{logger: logger.Named("image-archive"), adapter: adapter, tag: tag}, nil
}

func (c *ImageArchiveController) Boot(ctx context.Context) (ProcessHandle, error) {
	pipe, err := namedpipe.New("")
	if err != nil {
		return nil, err
	}

	container, err := containercli.Start(ctx, c.adapter, pipe, c.tag, []string{pipe.InPath(), pipe.OutPath()}, nil, nil)
	if err != nil {
		pipe.Close()
		return nil, err
	}

	return &containerHandle{container: container}, nil
}

// PooledScriptController acquires a pre-warmed general-purpose container,
// copies the component directory into it, and execs its entrypoint script.
type PooledScriptController struct {
	logger         hclog.Logger
	pool           *pool.Pool
	executableFile string
}

// NewPooledScriptController rejects non-Linux hosts (the pool only ever
// provisions Linux containers).
func NewPooledScriptController(logger hclog.Logger, p *pool.Pool, executableFile string) (*PooledScriptController, error) {
	if err := requireLinux("pooled-script components require linux"); err != nil {
		return nil, err
	}
	return &PooledScriptController{logger: logger.Named("pooled-script"), pool: p, executableFile: executableFile}, nil
}

func (c *PooledScriptController) Boot(ctx context.Context) (ProcessHandle, error) {
	container, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := container.CopyDirectoryIn(ctx, c.executableFile, pool.CodeDir); err != nil {
		_ = container.Stop(ctx)
		return nil, err
	}

	startScript := fmt.Sprintf("%s/start.sh", filepath.ToSlash(pool.CodeDir))
	helper, err := container.ExecAsync(ctx, []string{"sh", startScript, container.Pipe().InPath(), container.Pipe().OutPath()}, nil, nil)
	if err != nil {
		_ = container.Stop(ctx)
		return nil, err
	}

	return &containerHandle{container: container, helper: helper}, nil
}
