// ABOUTME: LocalHeap, one thread of an isolate and its marking barrier
// ABOUTME: Reference stores go through the barrier while marking is on

package isolate

import (
	"fmt"
	"sync"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/marking"
)

// LocalHeap is a thread of an isolate. Its methods must be called by one
// goroutine at a time; the safepoint pauses the thread between calls.
type LocalHeap struct {
	mu      sync.Mutex
	iso     *Isolate
	id      marking.ThreadID
	main    bool
	barrier *marking.Barrier
	closed  bool
}

func (i *Isolate) newThread(main bool) *LocalHeap {
	lh := &LocalHeap{iso: i, id: i.registry.NewThreadID(), main: main}
	lh.barrier = marking.New(lh, i.registry)
	i.safepoint.add(lh, func() {
		// Threads started mid-cycle join it right away.
		if i.collector.IsMarking() {
			lh.barrier.Activate(i.collector.Scope(), i.collector.IsCompacting())
		}
		if i.sharedMarking {
			lh.barrier.ActivateShared()
		}
	})
	return lh
}

// NewThread starts a background thread
func (i *Isolate) NewThread() *LocalHeap {
	return i.newThread(false)
}

// ThreadID returns the thread's identifier
func (lh *LocalHeap) ThreadID() marking.ThreadID { return lh.id }

// IsMainThread reports whether this is the isolate's main thread
func (lh *LocalHeap) IsMainThread() bool { return lh.main }

// Collector returns the collector of the isolate's heap
func (lh *LocalHeap) Collector() *collector.Collector { return lh.iso.collector }

// SharedCollector returns the collector of the shared-space isolate
func (lh *LocalHeap) SharedCollector() *collector.Collector {
	if s := lh.iso.SharedSpaceIsolate(); s != nil {
		return s.collector
	}
	return nil
}

// UsesSharedHeap reports whether the isolate takes part in a shared heap
func (lh *LocalHeap) UsesSharedHeap() bool { return lh.iso.UsesSharedHeap() }

// IsSharedSpaceIsolate reports whether the isolate owns the shared heap
func (lh *LocalHeap) IsSharedSpaceIsolate() bool { return lh.iso.owner }

// Flags returns the runtime flags
func (lh *LocalHeap) Flags() config.Flags { return lh.iso.flags }

// Isolate returns the owning isolate
func (lh *LocalHeap) Isolate() *Isolate { return lh.iso }

// Barrier returns the thread's marking barrier
func (lh *LocalHeap) Barrier() *marking.Barrier { return lh.barrier }

// region picks the allocation region for space. Shared spaces live in the
// shared-space isolate's heap.
func (lh *LocalHeap) region(space heap.Space) (*heap.Heap, *heap.Region, error) {
	h := lh.iso.heap
	if space.IsSharedWritable() {
		h = lh.iso.SharedHeap()
		if h == nil {
			return nil, nil, fmt.Errorf("allocate in %s: %w", space, ErrNoSharedIsolate)
		}
	}
	return h, h.Region(space), nil
}

// Allocate allocates a plain object with n slots in space
func (lh *LocalHeap) Allocate(space heap.Space, n int) (*heap.Object, error) {
	h, r, err := lh.region(space)
	if err != nil {
		return nil, err
	}
	return h.Allocate(r, n), nil
}

// AllocateIn allocates a plain object with n slots in r, which must belong
// to the isolate's own heap or to the shared heap
func (lh *LocalHeap) AllocateIn(r *heap.Region, n int) (*heap.Object, error) {
	h := r.Heap()
	if h != lh.iso.heap && h != lh.iso.SharedHeap() {
		return nil, fmt.Errorf("allocate in %s: %w", h.Name(), ErrForeignRegion)
	}
	return h.Allocate(r, n), nil
}

// AllocateCode allocates a code object with the given relocation entries
func (lh *LocalHeap) AllocateCode(n int, relocs []heap.RelocSpec) *heap.Object {
	h := lh.iso.heap
	return h.AllocateCode(h.Region(heap.CodeSpace), n, relocs)
}

// AllocateDescriptorArray allocates an empty descriptor array in space
func (lh *LocalHeap) AllocateDescriptorArray(space heap.Space, capacity int) (*heap.Object, error) {
	h, r, err := lh.region(space)
	if err != nil {
		return nil, err
	}
	return h.AllocateDescriptorArray(r, capacity), nil
}

// AllocateArrayBuffer allocates an array buffer with its extension
func (lh *LocalHeap) AllocateArrayBuffer(space heap.Space, ext *heap.Extension) (*heap.Object, error) {
	h, r, err := lh.region(space)
	if err != nil {
		return nil, err
	}
	buf := h.AllocateArrayBuffer(r)
	if ext != nil {
		buf.SetExtension(ext)
	}
	return buf, nil
}

// WriteField stores value into slot i of host
func (lh *LocalHeap) WriteField(host *heap.Object, i int, value *heap.Object) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	host.Store(i, value)
	if value != nil && lh.iso.IsMarkingFlag() {
		lh.barrier.RecordReference(host, host.Slot(i), value)
	}
}

// WriteCodeTarget points relocation entry i of code at value
func (lh *LocalHeap) WriteCodeTarget(code *heap.Object, i int, value *heap.Object) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	rinfo := code.Reloc(i)
	rinfo.SetTarget(value)
	if value != nil && lh.iso.IsMarkingFlag() {
		lh.barrier.RecordReferenceFromCode(code, rinfo, value)
	}
}

// WriteRoot adds value to the isolate's roots. Only the main thread owns
// the roots.
func (lh *LocalHeap) WriteRoot(value *heap.Object) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.iso.heap.AddRoot(value)
	if lh.barrier.IsActivated() {
		lh.barrier.RecordReferenceNoHost(value)
	}
}

// WriteArrayBufferExtension attaches ext to the array buffer buf
func (lh *LocalHeap) WriteArrayBufferExtension(buf *heap.Object, ext *heap.Extension) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	buf.SetExtension(ext)
	if lh.barrier.IsActivated() {
		lh.barrier.RecordArrayBufferExtensionReference(buf, ext)
	}
}

// AppendDescriptor appends a descriptor to array and returns the new count
func (lh *LocalHeap) AppendDescriptor(array, key, details, value *heap.Object) int {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	n := array.AppendDescriptor(key, details, value)
	if lh.barrier.IsActivated() {
		lh.barrier.RecordDescriptorArray(array, n)
	}
	return n
}

// Publish makes the thread's buffered marking work visible to markers
func (lh *LocalHeap) Publish() {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.publishLocked()
}

func (lh *LocalHeap) publishLocked() {
	lh.barrier.PublishIfNeeded()
	lh.barrier.PublishSharedIfNeeded()
}

// Close ends a background thread. Buffered marking work is published
// first.
func (lh *LocalHeap) Close() error {
	if lh.main {
		return fmt.Errorf("close thread %d of %s: main thread closes with the isolate", lh.id, lh.iso.name)
	}
	lh.close()
	return nil
}

func (lh *LocalHeap) close() {
	lh.iso.safepoint.remove(lh, func() {
		if lh.closed {
			return
		}
		lh.closed = true
		lh.publishLocked()
		lh.barrier.Destroy()
	})
}
