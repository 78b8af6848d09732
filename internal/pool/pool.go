// Package pool implements the idle-container pool: a process-wide
// singleton that pre-warms general-purpose containers in background
// producers and hands them out on demand, falling back to
// synchronous creation when the pool is empty.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/namedpipe"
)

const (
	// CacheSlots is the bounded channel's capacity.
	CacheSlots = 3
	// Producers is the number of background producer goroutines.
	Producers = 2

	// Image is the fixed general-purpose image every pooled container runs.
	Image = "python:3.7-alpine"
	// CodeDir is the guaranteed in-container code directory.
	CodeDir = "/home/sl"
)

// ProvisionalWait is slept unconditionally after starting a container,
// since the container runtime exposes no readiness signal. A var, not a
// const, so tests can shrink it.
var ProvisionalWait = 1 * time.Second

// ErrorBackoff is slept by a producer after a failed create before it
// retries. A var, not a const, so tests can shrink it.
var ErrorBackoff = 10 * time.Second

// sentinelCommand keeps the container alive indefinitely; it runs nothing
// of substance and is exec'd into separately once acquired.
var sentinelCommand = []string{"sleep", "1000000000"}

// Pool is a bounded cache of pre-warmed containers.
type Pool struct {
	adapter *containercli.Adapter
	logger  hclog.Logger
	ch      chan *containercli.Container

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

var (
	once sync.Once
	inst *Pool
)

// Get returns the process-wide singleton, starting its producer goroutines
// on first call.
func Get(adapter *containercli.Adapter, logger hclog.Logger) *Pool {
	once.Do(func() {
		inst = New(adapter, logger)
		inst.Start(context.Background())
	})
	return inst
}

// New constructs a Pool without starting its producers. Exposed for tests;
// production code should use Get.
func New(adapter *containercli.Adapter, logger hclog.Logger) *Pool {
	return &Pool{
		adapter: adapter,
		logger:  logger.Named("pool"),
		ch:      make(chan *containercli.Container, CacheSlots),
	}
}

// Start launches the producer goroutines, if not already running. Safe to
// call more than once.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < Producers; i++ {
		go p.produce(ctx)
	}
}

// Stop cancels the producer goroutines. Containers already queued are left
// for callers to drain or leak on process exit; this is not part of the
// normal request lifecycle.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) produce(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c, err := p.create(ctx)
		if err != nil {
			p.logger.Warn("failed to create pooled container, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(ErrorBackoff):
			}
			continue
		}

		select {
		case p.ch <- c:
		case <-ctx.Done():
			// No receiver will ever take this container; terminate it
			// rather than leaking it.
			_ = c.Stop(context.Background())
			return
		}
	}
}

// create starts a fresh general-purpose container, waits out the
// provisional readiness delay, and ensures its code directory exists.
func (p *Pool) create(ctx context.Context) (*containercli.Container, error) {
	pipe, err := namedpipe.New("")
	if err != nil {
		return nil, err
	}
	c, err := containercli.Start(ctx, p.adapter, pipe, Image, sentinelCommand, nil, nil)
	if err != nil {
		pipe.Close()
		return nil, err
	}

	time.Sleep(ProvisionalWait)

	if _, _, _, err := c.ExecSync(ctx, []string{"mkdir", "-p", CodeDir}); err != nil {
		_ = c.Stop(ctx)
		pipe.Close()
		return nil, err
	}
	return c, nil
}

// Acquire returns a pooled container: a non-blocking receive from the
// channel if one is ready, otherwise a synchronous creation inline.
func (p *Pool) Acquire(ctx context.Context) (*containercli.Container, error) {
	select {
	case c := <-p.ch:
		return c, nil
	default:
		return p.create(ctx)
	}
}
