// ABOUTME: Lookup of the barrier authorized to record writes per thread
// ABOUTME: Updated only when barriers are activated or deactivated

package marking

import (
	"sync"
	"sync/atomic"

	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
)

// Registry maps each thread to the barrier currently recording its writes.
// One registry serves every isolate of a process.
type Registry struct {
	mu      sync.RWMutex
	current map[ThreadID]*Barrier
	next    atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{current: make(map[ThreadID]*Barrier)}
}

// NewThreadID allocates a process-unique thread identifier
func (r *Registry) NewThreadID() ThreadID {
	return ThreadID(r.next.Add(1))
}

// Lookup returns the barrier registered for thread if it may record writes
// to host: host lives in the barrier's heap or in the shared heap it
// participates in.
func (r *Registry) Lookup(thread ThreadID, host *heap.Object) *Barrier {
	r.mu.RLock()
	b := r.current[thread]
	r.mu.RUnlock()
	if b == nil {
		return nil
	}
	h := host.Region().Heap()
	if h == b.heap || (b.shared != nil && h == b.shared.Heap()) {
		return b
	}
	return nil
}

// Len returns the number of registered barriers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.current)
}

func (r *Registry) register(b *Barrier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current[b.thread]
	check.That(prev == nil || prev == b, "thread %d already has a barrier", b.thread)
	r.current[b.thread] = b
}

func (r *Registry) unregister(b *Barrier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current[b.thread] == b {
		delete(r.current, b.thread)
	}
}
