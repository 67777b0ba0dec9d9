// ABOUTME: Marking barrier intercepting reference writes on one thread
// ABOUTME: Greys written values and records slots for compaction

// Package marking implements the marking write barrier. Each thread of an
// isolate owns one Barrier. While a cycle is active every reference store
// on that thread passes through it, so that a concurrently running marker
// never misses an object a black object was made to point at, and so that
// slots pointing into regions being evacuated are remembered.
//
// Barrier methods run inline with the store on the owning thread and are
// not safe for concurrent use; the owning thread serializes them with the
// safepoint that runs Activate, Deactivate and Publish.
package marking

import (
	"sync/atomic"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
	"github.com/prateek/markbarrier/remset"
	"github.com/prateek/markbarrier/retain"
	"github.com/prateek/markbarrier/worklist"
)

// ThreadID identifies an execution thread across all isolates
type ThreadID uint64

// Context is the thread-local heap a barrier is created with
type Context interface {
	ThreadID() ThreadID
	IsMainThread() bool
	Collector() *collector.Collector
	// SharedCollector returns the collector of the shared-space isolate,
	// or nil when there is no shared heap.
	SharedCollector() *collector.Collector
	UsesSharedHeap() bool
	IsSharedSpaceIsolate() bool
	Flags() config.Flags
}

// ColorState is the tri-color provider the barrier drives
type ColorState interface {
	IsBlack(obj *heap.Object) bool
	WhiteToGrey(obj *heap.Object) bool
	GreyToBlack(obj *heap.Object) bool
}

// Stats counts barrier activity. Values are cumulative.
type Stats struct {
	Writes           int64
	Greyed           int64
	SharedGreyed     int64
	SlotsRecorded    int64
	TypedSlotsMerged int64
}

type counters struct {
	writes           atomic.Int64
	greyed           atomic.Int64
	sharedGreyed     atomic.Int64
	slotsRecorded    atomic.Int64
	typedSlotsMerged atomic.Int64
}

// Barrier is the marking barrier of one thread
type Barrier struct {
	thread    ThreadID
	heap      *heap.Heap
	collector *collector.Collector
	shared    *collector.Collector
	colors    ColorState
	retainers *retain.Recorder
	registry  *Registry

	majorWorklist   *worklist.Local
	minorWorklist   *worklist.Local
	currentWorklist *worklist.Local
	sharedWorklist  *worklist.Local
	typedSlots      *remset.LocalTypedSlots

	activated  bool
	compacting bool
	scope      collector.Scope

	isMainThread             bool
	usesSharedHeap           bool
	isSharedSpaceIsolate     bool
	trackRetainingPath       bool
	concurrentCodePublishing bool

	stats counters
}

// New creates the barrier of ctx's thread. registry is consulted by debug
// checks to verify writes are recorded by the right barrier.
func New(ctx Context, registry *Registry) *Barrier {
	c := ctx.Collector()
	flags := ctx.Flags()
	return &Barrier{
		thread:                   ctx.ThreadID(),
		heap:                     c.Heap(),
		collector:                c,
		shared:                   ctx.SharedCollector(),
		colors:                   c.MarkingState(),
		retainers:                c.Retainers(),
		registry:                 registry,
		majorWorklist:            worklist.NewLocal(c.MajorWorklist()),
		minorWorklist:            worklist.NewLocal(c.MinorWorklist()),
		typedSlots:               remset.NewLocalTypedSlots(),
		isMainThread:             ctx.IsMainThread(),
		usesSharedHeap:           ctx.UsesSharedHeap(),
		isSharedSpaceIsolate:     ctx.IsSharedSpaceIsolate(),
		trackRetainingPath:       flags.TrackRetainingPath,
		concurrentCodePublishing: flags.ConcurrentCodePublishing,
	}
}

// RecordReference records that value was stored into slot of host. An
// empty slot marks value without recording any location.
func (b *Barrier) RecordReference(host *heap.Object, slot heap.Slot, value *heap.Object) {
	b.checkCurrent(host)
	check.That(b.activated || b.sharedWorklist != nil, "write on inactive barrier of thread %d", b.thread)
	b.stats.writes.Add(1)
	b.markValue(host, value)

	if slot.IsEmpty() {
		return
	}
	var recorded bool
	switch {
	case b.sharedWorklist != nil && host.InSharedWritableHeap():
		// The owner's cycle decides whether shared objects move.
		recorded = b.recorderFor(host).RecordSlot(host, slot, value)
	case b.sharedWorklist != nil && value.InSharedWritableHeap():
		// Local-to-shared pointers are roots of the shared heap's cycle.
		recorded = b.collector.Recorder().RecordSharedSlot(host, slot)
	case b.compacting:
		check.That(b.scope == collector.Major, "compacting minor cycle")
		recorded = b.recorderFor(host).RecordSlot(host, slot, value)
	}
	if recorded {
		b.stats.slotsRecorded.Add(1)
	}
}

// RecordReferenceFromCode records that value was embedded into code at
// the location described by rinfo.
func (b *Barrier) RecordReferenceFromCode(code *heap.Object, rinfo *heap.RelocInfo, value *heap.Object) {
	b.checkCurrent(code)
	check.That(code.Kind() == heap.KindCode && rinfo.Host() == code, "relocation entry does not belong to %s", code)
	check.That(!code.InSharedWritableHeap(), "code %s in shared heap", code)
	check.That(b.activated || b.sharedWorklist != nil, "write on inactive barrier of thread %d", b.thread)
	b.stats.writes.Add(1)
	b.markValue(code, value)

	if !b.compacting {
		return
	}
	check.That(b.scope == collector.Major, "compacting minor cycle")
	if b.isMainThread {
		// The main thread owns code objects; skip the per-thread buffer.
		if b.collector.Recorder().RecordRelocSlot(rinfo, value) {
			b.stats.slotsRecorded.Add(1)
		}
		return
	}
	b.recordRelocSlot(rinfo, value)
}

// RecordReferenceNoHost marks value, which was reached from a location
// that belongs to no heap object. Only the main thread calls this.
func (b *Barrier) RecordReferenceNoHost(value *heap.Object) {
	check.That(b.isMainThread, "hostless write on background thread %d", b.thread)
	check.That(b.activated, "hostless write on inactive barrier of thread %d", b.thread)
	b.stats.writes.Add(1)

	// Shared values are traced by the shared-space isolate.
	if b.usesSharedHeap && !b.isSharedSpaceIsolate && value.InSharedWritableHeap() {
		return
	}
	b.markValueLocal(value)
}

// RecordArrayBufferExtensionReference marks the backing store metadata ext
// of the array buffer host.
func (b *Barrier) RecordArrayBufferExtensionReference(host *heap.Object, ext *heap.Extension) {
	b.checkCurrent(host)
	check.That(b.activated, "write on inactive barrier of thread %d", b.thread)
	b.stats.writes.Add(1)
	if b.scope == collector.Minor {
		if host.InYoungGeneration() {
			ext.YoungMark()
		}
		return
	}
	ext.Mark()
}

func (b *Barrier) recordRelocSlot(rinfo *heap.RelocInfo, target *heap.Object) {
	if !remset.ShouldRecordRelocSlot(rinfo, target) {
		return
	}
	info := remset.ProcessRelocInfo(rinfo)
	if b.typedSlots.Insert(info.Region, info.Type, info.Offset) {
		b.stats.slotsRecorded.Add(1)
	}
}

func (b *Barrier) recorderFor(host *heap.Object) *remset.Recorder {
	if b.shared != nil && host.Region().Heap() == b.shared.Heap() {
		return b.shared.Recorder()
	}
	return b.collector.Recorder()
}

func (b *Barrier) markValue(host, value *heap.Object) {
	// Without a shared heap, and on the shared-space isolate itself, every
	// object is local.
	if b.usesSharedHeap && !b.isSharedSpaceIsolate {
		if !host.Region().IsFlagSet(heap.FlagIncrementalMarking) {
			return
		}
		if host.InSharedWritableHeap() || value.InSharedWritableHeap() {
			check.Implies(host.InSharedWritableHeap(), value.InSharedHeap(), "shared %s points to local %s", host, value)
			if b.sharedWorklist != nil {
				b.markValueShared(value)
			}
			return
		}
	}

	check.That(b.activated, "local write on inactive barrier of thread %d", b.thread)
	b.markValueLocal(value)
}

func (b *Barrier) markValueShared(value *heap.Object) {
	check.That(value.InSharedHeap(), "%s is not shared", value)
	check.That(!b.isSharedSpaceIsolate, "shared worklist on the shared-space isolate")
	if b.colors.WhiteToGrey(value) {
		b.sharedWorklist.Push(value)
		b.stats.sharedGreyed.Add(1)
	}
}

func (b *Barrier) markValueLocal(value *heap.Object) {
	if b.scope == collector.Minor {
		if value.InYoungGeneration() {
			b.whiteToGreyAndPush(value)
		}
		return
	}
	if b.whiteToGreyAndPush(value) && b.trackRetainingPath {
		b.retainers.AddRetainingRoot(retain.RootWriteBarrier, value)
	}
}

func (b *Barrier) whiteToGreyAndPush(obj *heap.Object) bool {
	if b.colors.WhiteToGrey(obj) {
		b.currentWorklist.Push(obj)
		b.stats.greyed.Add(1)
		return true
	}
	return false
}

func (b *Barrier) checkCurrent(host *heap.Object) {
	if check.Enabled() {
		check.That(b.IsCurrentMarkingBarrier(host), "barrier of thread %d may not record writes to %s", b.thread, host)
	}
}

// IsCurrentMarkingBarrier reports whether b is registered as the barrier
// recording writes to host on its thread.
func (b *Barrier) IsCurrentMarkingBarrier(host *heap.Object) bool {
	return b.registry.Lookup(b.thread, host) == b
}

// Thread returns the owning thread
func (b *Barrier) Thread() ThreadID { return b.thread }

// Stats returns a snapshot of the barrier's counters
func (b *Barrier) Stats() Stats {
	return Stats{
		Writes:           b.stats.writes.Load(),
		Greyed:           b.stats.greyed.Load(),
		SharedGreyed:     b.stats.sharedGreyed.Load(),
		SlotsRecorded:    b.stats.slotsRecorded.Load(),
		TypedSlotsMerged: b.stats.typedSlotsMerged.Load(),
	}
}
