package containercli

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hashicorp/go-uuid"

	"github.com/v9-labs/v9worker/internal/namedpipe"
	"github.com/v9-labs/v9worker/internal/workerrors"
)

// sanitisePattern matches each run of non-alphanumerics in an image name;
// sanitiseImage replaces every run with '_' for use inside a container
// name, mirroring the original's name-sanitising pass over registry/tag
// separators (':', '/', '.').
var sanitisePattern = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Container is a running (or about to run) container, started by shelling
// out to the adapter's CLI binary (spawned without waiting; the "run"
// subprocess stays attached for the container's lifetime) and mounting a
// NamedPipe pair into it for the component protocol.
type Container struct {
	adapter *Adapter
	name    string
	pipe    *namedpipe.NamedPipe
	handle  *SubprocessHandle
}

// Start launches image (with imageArgs appended to the run invocation) as a
// container named "v9_<sanitised-image>_<random>", bind-mounting
// pipe's directory at the identical path inside the container so that
// in-container command lines referencing pipe.InPath()/OutPath() resolve to
// the same FIFOs the host side opened.
func Start(ctx context.Context, adapter *Adapter, pipe *namedpipe.NamedPipe, image string, imageArgs []string, stdout, stderr io.Writer) (*Container, error) {
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		return nil, workerrors.IO(err)
	}
	name := fmt.Sprintf("v9_%s_%s", sanitiseImage(image), strings.ReplaceAll(suffix, "-", "")[:16])

	args := []string{
		"run", "--rm",
		"--name", name,
		"--volume", fmt.Sprintf("%s:%s", pipe.Dir(), pipe.Dir()),
		image,
	}
	args = append(args, imageArgs...)

	handle, err := adapter.RunDetached(ctx, args, stdout, stderr)
	if err != nil {
		return nil, err
	}
	return &Container{adapter: adapter, name: name, pipe: pipe, handle: handle}, nil
}

// Name returns the container's generated name.
func (c *Container) Name() string { return c.name }

// Pipe returns the NamedPipe mounted into the container.
func (c *Container) Pipe() *namedpipe.NamedPipe { return c.pipe }

// RunHandle returns the subprocess handle for the detached "run" invocation.
func (c *Container) RunHandle() *SubprocessHandle { return c.handle }

// ExecSync runs cmd inside the already-running container and waits for it
// to finish, returning its exit code and captured streams.
func (c *Container) ExecSync(ctx context.Context, cmd []string) (exitCode int, stdout, stderr string, err error) {
	args := append([]string{"exec", c.name}, cmd...)
	return c.adapter.CallSync(ctx, args)
}

// ExecAsync runs cmd inside the already-running container without waiting.
func (c *Container) ExecAsync(ctx context.Context, cmd []string, stdout, stderr io.Writer) (*SubprocessHandle, error) {
	args := append([]string{"exec", c.name}, cmd...)
	return c.adapter.RunDetached(ctx, args, stdout, stderr)
}

// CopyDirectoryIn copies the contents of the host directory source into
// target inside the container. The trailing "/." on source tells the CLI to
// copy the directory's contents rather than the directory itself.
func (c *Container) CopyDirectoryIn(ctx context.Context, source, target string) error {
	src := strings.TrimRight(source, "/") + "/."
	dst := fmt.Sprintf("%s:%s", c.name, target)
	_, _, _, err := c.adapter.CallSync(ctx, []string{"cp", src, dst})
	return err
}

// Stop terminates the container. It first asks the CLI to stop it
// gracefully; if that fails it falls back to killing the detached run
// subprocess outright rather than leaking it.
func (c *Container) Stop(ctx context.Context) error {
	_, _, _, err := c.adapter.CallSync(ctx, []string{"stop", c.name})
	if err != nil {
		return c.handle.Terminate()
	}
	return nil
}

func sanitiseImage(image string) string {
	s := sanitisePattern.ReplaceAllString(image, "_")
	return strings.ToLower(strings.Trim(s, "_"))
}
