// ABOUTME: Isolates, the execution contexts that own a heap and its threads
// ABOUTME: An isolate may own the shared heap or be a client of its owner

// Package isolate hosts the runtime side of the marking barrier: isolates
// with their threads (LocalHeap), the safepoints that pause those threads,
// and the Coordinator that activates, publishes and deactivates every
// thread's barrier around a marking cycle.
package isolate

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/marking"
)

var (
	// ErrNoSharedIsolate is returned when a client names an isolate that
	// does not own a shared heap.
	ErrNoSharedIsolate = errors.New("no shared-space isolate")
	// ErrInUse is returned when closing an owner that still has clients
	ErrInUse = errors.New("isolate in use")
	// ErrNotMarking is returned when finishing a cycle that never started
	ErrNotMarking = errors.New("isolate not marking")
	// ErrMarking is returned when starting a cycle while one is running
	ErrMarking = errors.New("isolate already marking")
	// ErrForeignRegion is returned when allocating in a region the thread
	// cannot reach
	ErrForeignRegion = errors.New("region of another heap")
)

// Options configures a new isolate
type Options struct {
	Name  string
	Flags config.Flags
	// SharedSpaceIsolate makes the isolate the owner of a shared heap.
	SharedSpaceIsolate bool
	// SharedIsolate is the owner this isolate is a client of
	SharedIsolate *Isolate
	// Registry is the process-wide barrier registry. Clients default to
	// their owner's.
	Registry *marking.Registry
	Logger   *slog.Logger
}

// Isolate is an execution context owning a heap and its threads
type Isolate struct {
	name      string
	flags     config.Flags
	log       *slog.Logger
	heap      *heap.Heap
	collector *collector.Collector
	registry  *marking.Registry

	owner  bool
	shared *Isolate

	safepoint   *Safepoint
	global      *GlobalSafepoint
	coordinator *Coordinator

	isMarking atomic.Bool
	// sharedMarking is set while the owner's major cycle has this client's
	// barriers shared-activated. Guarded by the safepoint.
	sharedMarking bool

	main   *LocalHeap
	closed atomic.Bool
}

// New creates an isolate together with its main thread
func New(opts Options) (*Isolate, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("new isolate: %w: empty name", config.ErrInvalidConfig)
	}
	if opts.SharedSpaceIsolate && opts.SharedIsolate != nil {
		return nil, fmt.Errorf("new isolate %s: %w: an owner cannot be a client", opts.Name, config.ErrInvalidConfig)
	}
	if opts.SharedSpaceIsolate && !opts.Flags.SharedSpace {
		return nil, fmt.Errorf("new isolate %s: %w: shared space disabled", opts.Name, config.ErrInvalidConfig)
	}
	if opts.SharedIsolate != nil && !opts.SharedIsolate.owner {
		return nil, fmt.Errorf("new isolate %s: %s: %w", opts.Name, opts.SharedIsolate.name, ErrNoSharedIsolate)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("isolate", opts.Name)

	registry := opts.Registry
	if registry == nil && opts.SharedIsolate != nil {
		registry = opts.SharedIsolate.registry
	}
	if registry == nil {
		registry = marking.NewRegistry()
	}

	h := heap.NewHeap(opts.Name)
	for _, space := range []heap.Space{heap.NewSpace, heap.OldSpace, heap.CodeSpace} {
		h.Region(space)
	}
	if opts.SharedSpaceIsolate {
		h.Region(heap.SharedSpace)
	}

	i := &Isolate{
		name:      opts.Name,
		flags:     opts.Flags,
		log:       log,
		heap:      h,
		collector: collector.New(h, log),
		registry:  registry,
		owner:     opts.SharedSpaceIsolate,
		shared:    opts.SharedIsolate,
		safepoint: newSafepoint(),
	}
	i.coordinator = &Coordinator{iso: i, log: log}
	if i.owner {
		i.global = &GlobalSafepoint{owner: i}
	}
	if i.shared != nil {
		i.shared.global.add(i)
	}
	i.main = i.newThread(true)
	log.Debug("isolate created", "owner", i.owner, "client", i.shared != nil)
	return i, nil
}

// Name returns the isolate's name
func (i *Isolate) Name() string { return i.name }

// Flags returns the runtime flags
func (i *Isolate) Flags() config.Flags { return i.flags }

// Heap returns the isolate's own heap
func (i *Isolate) Heap() *heap.Heap { return i.heap }

// Collector returns the collector of the isolate's heap
func (i *Isolate) Collector() *collector.Collector { return i.collector }

// Registry returns the barrier registry
func (i *Isolate) Registry() *marking.Registry { return i.registry }

// IsSharedSpaceIsolate reports whether the isolate owns the shared heap
func (i *Isolate) IsSharedSpaceIsolate() bool { return i.owner }

// UsesSharedHeap reports whether the isolate owns or shares a shared heap
func (i *Isolate) UsesSharedHeap() bool { return i.owner || i.shared != nil }

// SharedSpaceIsolate returns the owner of the shared heap: the isolate
// itself if it is the owner, nil without a shared heap.
func (i *Isolate) SharedSpaceIsolate() *Isolate {
	if i.owner {
		return i
	}
	return i.shared
}

// SharedHeap returns the heap holding the shared space, or nil
func (i *Isolate) SharedHeap() *heap.Heap {
	if s := i.SharedSpaceIsolate(); s != nil {
		return s.heap
	}
	return nil
}

// IsMarkingFlag reports whether writes must take the barrier slow path
func (i *Isolate) IsMarkingFlag() bool { return i.isMarking.Load() }

// SetIsMarkingFlag forces the barrier slow path on or off
func (i *Isolate) SetIsMarkingFlag(v bool) { i.isMarking.Store(v) }

// MainThread returns the isolate's main thread
func (i *Isolate) MainThread() *LocalHeap { return i.main }

// Safepoint returns the safepoint pausing the isolate's threads
func (i *Isolate) Safepoint() *Safepoint { return i.safepoint }

// GlobalSafepoint returns the client list of a shared-space isolate, or
// nil for any other isolate.
func (i *Isolate) GlobalSafepoint() *GlobalSafepoint { return i.global }

// Coordinator returns the isolate's activation coordinator
func (i *Isolate) Coordinator() *Coordinator { return i.coordinator }

// Logger returns the isolate's logger
func (i *Isolate) Logger() *slog.Logger { return i.log }

// Close closes every thread and detaches a client from its owner. An
// owner can only be closed once all of its clients are.
func (i *Isolate) Close() error {
	if i.owner && i.global.Len() > 0 {
		return fmt.Errorf("close %s: %w: %d clients attached", i.name, ErrInUse, i.global.Len())
	}
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	if i.shared != nil {
		i.shared.global.remove(i)
	}
	for _, lh := range i.safepoint.LocalHeaps() {
		lh.close()
	}
	i.log.Debug("isolate closed")
	return nil
}

func (i *Isolate) String() string { return i.name }
