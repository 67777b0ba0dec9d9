// ABOUTME: Per-barrier activation state machine and publishing
// ABOUTME: Primary and shared activation toggle independently

package marking

import (
	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
	"github.com/prateek/markbarrier/worklist"
)

// Activate starts recording writes for a cycle of scope
func (b *Barrier) Activate(scope collector.Scope, compacting bool) {
	check.That(!b.activated, "barrier of thread %d already active", b.thread)
	check.That(b.majorWorklist.IsLocalEmpty(), "unpublished major work on thread %d", b.thread)
	check.That(b.minorWorklist.IsLocalEmpty(), "unpublished minor work on thread %d", b.thread)
	check.Implies(compacting, scope == collector.Major, "minor cycles do not compact")

	b.compacting = compacting
	b.scope = scope
	if scope == collector.Minor {
		b.currentWorklist = b.minorWorklist
	} else {
		b.currentWorklist = b.majorWorklist
	}
	b.activated = true
	b.registry.register(b)
}

// ActivateShared starts greying shared objects written on this thread
// into the shared-space isolate's worklist.
func (b *Barrier) ActivateShared() {
	check.That(b.sharedWorklist == nil, "barrier of thread %d already shared-active", b.thread)
	check.That(b.shared != nil, "thread %d has no shared heap", b.thread)
	b.sharedWorklist = worklist.NewLocal(b.shared.MajorWorklist())
	b.registry.register(b)
}

// Deactivate stops recording writes. All work and typed slots must have
// been published.
func (b *Barrier) Deactivate() {
	check.That(b.activated, "barrier of thread %d not active", b.thread)
	check.That(b.typedSlots.IsEmpty(), "unmerged typed slots on thread %d", b.thread)
	check.That(b.currentWorklist.IsLocalEmpty(), "unpublished %s work on thread %d", b.scope, b.thread)

	b.activated = false
	b.compacting = false
	b.currentWorklist = nil
	if b.sharedWorklist == nil {
		b.registry.unregister(b)
	}
}

// DeactivateShared stops shared greying. The shared worklist must be
// fully drained.
func (b *Barrier) DeactivateShared() {
	check.That(b.sharedWorklist != nil, "barrier of thread %d not shared-active", b.thread)
	check.That(b.sharedWorklist.IsLocalAndGlobalEmpty(), "shared work pending on thread %d", b.thread)

	b.sharedWorklist = nil
	if !b.activated {
		b.registry.unregister(b)
	}
}

// PublishIfNeeded makes locally buffered work visible to the marker and
// merges typed slots into the remembered set.
func (b *Barrier) PublishIfNeeded() {
	if !b.activated {
		return
	}
	b.currentWorklist.Publish()
	lock := b.concurrentCodePublishing && !b.typedSlots.IsEmpty()
	merged := b.typedSlots.MergeInto(b.collector.RememberedSet(), lock)
	b.stats.typedSlotsMerged.Add(int64(merged))
}

// PublishSharedIfNeeded makes locally buffered shared work visible to the
// shared-space isolate's marker.
func (b *Barrier) PublishSharedIfNeeded() {
	if b.sharedWorklist != nil {
		b.sharedWorklist.Publish()
	}
}

// Destroy releases the barrier with its thread. Typed slots must have
// been merged.
func (b *Barrier) Destroy() {
	check.That(b.typedSlots.IsEmpty(), "barrier of thread %d destroyed with typed slots", b.thread)
	b.registry.unregister(b)
}

// IsActivated reports whether a primary cycle is active
func (b *Barrier) IsActivated() bool { return b.activated }

// IsSharedActivated reports whether shared greying is active
func (b *Barrier) IsSharedActivated() bool { return b.sharedWorklist != nil }

// IsCompacting reports whether the active cycle compacts
func (b *Barrier) IsCompacting() bool { return b.compacting }

// Scope returns the active cycle's scope
func (b *Barrier) Scope() collector.Scope { return b.scope }

// IsLocalWorkEmpty reports whether no work is buffered on this thread
func (b *Barrier) IsLocalWorkEmpty() bool {
	return b.majorWorklist.IsLocalEmpty() && b.minorWorklist.IsLocalEmpty() &&
		(b.sharedWorklist == nil || b.sharedWorklist.IsLocalEmpty())
}

// PendingTypedSlots returns the number of typed slots buffered for r
func (b *Barrier) PendingTypedSlots(r *heap.Region) int { return b.typedSlots.Len(r) }

// HasPendingTypedSlots reports whether any typed slot awaits merging
func (b *Barrier) HasPendingTypedSlots() bool { return !b.typedSlots.IsEmpty() }
