// Package component implements the component data model and manager: the
// registry of active components keyed by ComponentPath, and the manager
// that serialises activate/deactivate and dispatches invocations under
// per-component locks.
package component

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/v9-labs/v9worker/internal/isolation"
	"github.com/v9-labs/v9worker/internal/logs"
	"github.com/v9-labs/v9worker/internal/stats"
	"github.com/v9-labs/v9worker/internal/wire"
)

// Path identifies a component within this node.
type Path struct {
	User string
	Repo string
}

func (p Path) key() []byte { return []byte(p.User + "/" + p.Repo) }

// Handle is the manager's per-component mutable record: an isolation
// wrapper plus its stats and log trackers, all protected by one mutex so
// that any two operations on the same component are serialised.
type Handle struct {
	ID              wire.ComponentID
	ExecutionMethod wire.ExecutionMethod

	mu      sync.Mutex
	wrapper *isolation.Wrapper
	stats   *stats.Tracker
	logs    *logs.Tracker
}

// newHandle wraps an already-constructed isolation.Wrapper with fresh
// stats and log trackers.
func newHandle(id wire.ComponentID, method wire.ExecutionMethod, wrapper *isolation.Wrapper, logTracker *logs.Tracker) *Handle {
	return &Handle{
		ID:              id,
		ExecutionMethod: method,
		wrapper:         wrapper,
		stats:           stats.New(),
		logs:            logTracker,
	}
}

// Registry maps ComponentPath to Handle using a copy-on-write radix tree,
// swapped under a reader-writer lock: writers (activate/deactivate) take
// the write side, readers (lookup/status/heartbeat) take the read side.
// The registry lock is never held across a per-handle operation.
type Registry struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tree: iradix.New()}
}

// Lookup returns the handle for path, if any, without taking the handle's
// own lock.
func (r *Registry) Lookup(path Path) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.tree.Get(path.key())
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Insert adds h at path. Returns false without modifying the registry if
// an entry already exists there.
func (r *Registry) Insert(path Path, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tree.Get(path.key()); exists {
		return false
	}
	newTree, _, _ := r.tree.Insert(path.key(), h)
	r.tree = newTree
	return true
}

// Remove deletes the entry at path, returning it if present.
func (r *Registry) Remove(path Path) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	newTree, v, ok := r.tree.Delete(path.key())
	if !ok {
		return nil, false
	}
	r.tree = newTree
	return v.(*Handle), true
}

// Walk calls fn for every handle currently registered. fn must not call
// back into the registry (Insert/Remove) from within the walk.
func (r *Registry) Walk(fn func(*Handle)) {
	r.mu.RLock()
	tree := r.tree
	r.mu.RUnlock()

	tree.Root().Walk(func(k []byte, v interface{}) bool {
		fn(v.(*Handle))
		return false
	})
}
