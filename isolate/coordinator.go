// ABOUTME: Activation coordinator toggling every thread's marking barrier
// ABOUTME: Owners drive their clients through explicit command dispatch

package isolate

import (
	"fmt"
	"log/slog"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
)

// Command is a barrier operation an owner asks a client isolate to run on
// all of its threads.
type Command uint8

const (
	CommandActivateShared Command = iota
	CommandDeactivateShared
	CommandPublishShared
)

func (c Command) String() string {
	switch c {
	case CommandActivateShared:
		return "activate-shared"
	case CommandDeactivateShared:
		return "deactivate-shared"
	case CommandPublishShared:
		return "publish-shared"
	}
	return fmt.Sprintf("command(%d)", uint8(c))
}

// Coordinator runs barrier state changes across all threads of an
// isolate, and of its clients when the isolate owns the shared heap.
// Every exported method pauses the isolate's threads for its duration.
type Coordinator struct {
	iso *Isolate
	log *slog.Logger
	// scope of the active cycle, guarded by the safepoint
	scope collector.Scope
}

// broadcast delivers a command to every client of an owner
type broadcast func(Command)

// ActivateAll activates every thread's barrier for a cycle of scope. On
// the shared-space isolate a major cycle also shared-activates every
// client thread.
func (c *Coordinator) ActivateAll(scope collector.Scope, compacting bool) {
	sp := c.iso.safepoint
	sp.Enter()
	defer sp.Leave()
	c.activateAll(scope, compacting, c.dispatchToClients)
}

// DeactivateAll deactivates every thread's barrier, and every client's
// shared activation after a major cycle of the shared-space isolate.
func (c *Coordinator) DeactivateAll() {
	sp := c.iso.safepoint
	sp.Enter()
	defer sp.Leave()
	c.deactivateAll(c.dispatchToClients)
}

// PublishAll publishes every thread's marking work and typed slots, and
// every client's shared work on the shared-space isolate.
func (c *Coordinator) PublishAll() {
	sp := c.iso.safepoint
	sp.Enter()
	defer sp.Leave()
	c.publishAll(c.dispatchToClients)
}

// Dispatch runs cmd on every thread of a client isolate at the client's
// own safepoint.
func (c *Coordinator) Dispatch(cmd Command) {
	sp := c.iso.safepoint
	sp.Enter()
	defer sp.Leave()
	c.dispatchLocked(cmd)
}

func (c *Coordinator) activateAll(scope collector.Scope, compacting bool, clients broadcast) {
	i := c.iso
	c.scope = scope
	c.setSpaceFlags(scope, true)
	n := 0
	i.safepoint.IterateLocalHeaps(func(lh *LocalHeap) {
		lh.barrier.Activate(scope, compacting)
		n++
	})
	i.SetIsMarkingFlag(true)
	if i.owner && scope == collector.Major {
		clients(CommandActivateShared)
	}
	c.log.Debug("barriers activated", "scope", scope, "compacting", compacting, "threads", n)
}

func (c *Coordinator) deactivateAll(clients broadcast) {
	i := c.iso
	scope := c.scope
	c.setSpaceFlags(scope, false)
	i.safepoint.IterateLocalHeaps(func(lh *LocalHeap) {
		lh.barrier.Deactivate()
	})
	i.SetIsMarkingFlag(i.sharedMarking)
	if i.owner && scope == collector.Major {
		clients(CommandDeactivateShared)
	}
	c.log.Debug("barriers deactivated", "scope", scope)
}

func (c *Coordinator) publishAll(clients broadcast) {
	i := c.iso
	i.safepoint.IterateLocalHeaps(func(lh *LocalHeap) {
		lh.publishLocked()
	})
	if i.owner {
		clients(CommandPublishShared)
	}
}

// setSpaceFlags tags the regions a cycle of scope collects. Shared
// regions belong to major cycles of the shared-space isolate only.
func (c *Coordinator) setSpaceFlags(scope collector.Scope, marking bool) {
	c.iso.heap.ForEachRegion(func(r *heap.Region) {
		if scope == collector.Minor && r.InSharedWritableHeap() {
			return
		}
		r.SetGenerationFlags(marking)
	})
}

func (c *Coordinator) dispatchToClients(cmd Command) {
	c.iso.global.IterateClientIsolates(func(client *Isolate) {
		client.coordinator.Dispatch(cmd)
	})
}

func (c *Coordinator) dispatchLocked(cmd Command) {
	i := c.iso
	check.That(!i.owner && i.shared != nil, "%s dispatched to %s, which is no client", cmd, i.name)
	switch cmd {
	case CommandActivateShared:
		if i.sharedMarking {
			// Attached during the cycle; threads are already active.
			break
		}
		// Force stores onto the barrier path before any barrier can see
		// shared work.
		i.SetIsMarkingFlag(true)
		i.sharedMarking = true
		i.safepoint.IterateLocalHeaps(func(lh *LocalHeap) { lh.barrier.ActivateShared() })
	case CommandDeactivateShared:
		// The client may be in a cycle of its own.
		i.SetIsMarkingFlag(i.collector.IsMarking())
		i.sharedMarking = false
		i.safepoint.IterateLocalHeaps(func(lh *LocalHeap) { lh.barrier.DeactivateShared() })
	case CommandPublishShared:
		i.safepoint.IterateLocalHeaps(func(lh *LocalHeap) { lh.barrier.PublishSharedIfNeeded() })
	default:
		check.That(false, "unknown command %s", cmd)
	}
	c.log.Debug("command dispatched", "command", cmd)
}
