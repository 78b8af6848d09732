// Package logs implements the log tracker: a swappable capture policy for a
// component's subprocess stdout/stderr, backed by a temp file, with a
// generation counter that lets a reader detect the
// policy it last saw has since been replaced.
package logs

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/workerrors"
)

// globalGeneration is the process-wide monotonic counter every
// create_associated_policy() advances, regardless of which Tracker it
// belongs to.
var globalGeneration uint64

// Kind distinguishes the two LogPolicy variants.
type Kind int

const (
	// KindCapture redirects stdio to a backing temp file.
	KindCapture Kind = iota
	// KindIgnore discards stdio; the subprocess is still detached, output
	// is simply never retained.
	KindIgnore
)

// Policy is shared by reference between the Tracker that owns it and the
// isolation wrapper that hands its stdio redirection to a subprocess at
// boot. Its refcount tracks how many live subprocesses still reference it,
// so a Tracker can warn when replacing a policy other code still holds.
type Policy struct {
	kind Kind
	path string // only set for KindCapture
	refs int32
}

// Acquire increments the policy's live-reference count. Call once per
// subprocess configured with this policy.
func (p *Policy) Acquire() *Policy {
	atomic.AddInt32(&p.refs, 1)
	return p
}

// Release decrements the live-reference count. Call once the subprocess
// using this policy has been torn down.
func (p *Policy) Release() {
	atomic.AddInt32(&p.refs, -1)
}

func (p *Policy) liveRefs() int32 {
	return atomic.LoadInt32(&p.refs)
}

// Kind reports whether this is a Capture or Ignore policy.
func (p *Policy) Kind() Kind { return p.kind }

// Path is the backing temp file's path, valid only for KindCapture.
func (p *Policy) Path() string { return p.path }

// Stdio opens fresh file descriptors suitable for exec.Cmd.Stdout/Stderr:
// both pointing at the capture file for KindCapture, or at the OS null
// device for KindIgnore. Callers are responsible for closing the returned
// files once the subprocess exits.
func (p *Policy) Stdio() (stdout, stderr *os.File, err error) {
	target := p.path
	flags := os.O_WRONLY | os.O_APPEND
	if p.kind == KindIgnore {
		target = os.DevNull
		flags = os.O_WRONLY
	}
	stdout, err = os.OpenFile(target, flags, 0o644)
	if err != nil {
		return nil, nil, workerrors.IO(err)
	}
	stderr, err = os.OpenFile(target, flags, 0o644)
	if err != nil {
		stdout.Close()
		return nil, nil, workerrors.IO(err)
	}
	return stdout, stderr, nil
}

// Tracker holds one shared reference to a Policy, plus the generation at
// which that policy was installed.
type Tracker struct {
	logger hclog.Logger

	mu         sync.Mutex
	policy     *Policy
	generation uint64
}

// New returns a Tracker holding an Ignore policy at generation 0, until
// CreateAssociatedPolicy or SetIgnorePolicy is called.
func New(logger hclog.Logger) *Tracker {
	return &Tracker{
		logger: logger.Named("logs"),
		policy: &Policy{kind: KindIgnore},
	}
}

// CreateAssociatedPolicy replaces the current policy with a fresh Capture
// backed by a new temp file and advances the tracker's generation. If the
// prior policy still has live references, a warning is logged: future
// output from a subprocess still holding it will write to an orphaned
// file.
func (t *Tracker) CreateAssociatedPolicy() (*Policy, error) {
	f, err := os.CreateTemp("", "v9log-")
	if err != nil {
		return nil, workerrors.IO(err)
	}
	path := f.Name()
	f.Close()

	policy := &Policy{kind: KindCapture, path: path}
	t.install(policy)
	return policy, nil
}

// SetIgnorePolicy replaces the current policy with Ignore and advances the
// generation, following the same orphan-warning rule as
// CreateAssociatedPolicy.
func (t *Tracker) SetIgnorePolicy() *Policy {
	policy := &Policy{kind: KindIgnore}
	t.install(policy)
	return policy
}

func (t *Tracker) install(policy *Policy) {
	t.mu.Lock()
	prior := t.policy
	t.policy = policy
	t.generation = atomic.AddUint64(&globalGeneration, 1)
	t.mu.Unlock()

	if prior != nil && prior.liveRefs() > 0 {
		t.logger.Warn("replacing log policy still referenced by a live subprocess",
			"live_refs", prior.liveRefs())
	}
}

// Snapshot returns the tracker's current generation and, for a Capture
// policy, the full contents of its backing file (read by path so the
// subprocess's own write cursor is never disturbed). An Ignore policy
// yields a nil logs pointer.
func (t *Tracker) Snapshot() (generation uint64, logs *string) {
	t.mu.Lock()
	policy := t.policy
	generation = t.generation
	t.mu.Unlock()

	if policy == nil || policy.kind != KindCapture {
		return generation, nil
	}

	data, err := os.ReadFile(policy.path)
	if err != nil {
		return generation, nil
	}
	s := string(data)
	return generation, &s
}

// CurrentPolicy returns the tracker's installed policy without altering
// the generation.
func (t *Tracker) CurrentPolicy() *Policy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy
}
