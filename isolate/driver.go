// ABOUTME: Marking cycle driver bracketing a cycle with barrier activation
// ABOUTME: FinishMarking is the atomic pause that drains and deactivates

package isolate

import (
	"context"
	"fmt"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/worklist"
)

// CycleOptions selects what a marking cycle collects
type CycleOptions struct {
	Scope      collector.Scope
	Compacting bool
	// Candidates are the regions to evacuate in a compacting cycle
	Candidates []*heap.Region
}

// StartMarking starts a cycle on the isolate's heap and activates every
// barrier that must observe it.
func (i *Isolate) StartMarking(opts CycleOptions) error {
	sp := i.safepoint
	sp.Enter()
	defer sp.Leave()

	if i.collector.IsMarking() {
		return fmt.Errorf("start marking %s: %w", i.name, ErrMarking)
	}
	if opts.Compacting && opts.Scope != collector.Major {
		return fmt.Errorf("start marking %s: %s cycles do not compact", i.name, opts.Scope)
	}
	i.collector.Start(opts.Scope, opts.Compacting, opts.Candidates)
	if i.owner && opts.Scope == collector.Major {
		var clients []*Isolate
		i.global.IterateClientIsolates(func(c *Isolate) { clients = append(clients, c) })
		i.markClientReferences(clients)
	}
	i.coordinator.activateAll(opts.Scope, opts.Compacting, i.coordinator.dispatchToClients)
	i.log.Info("marking started", "scope", opts.Scope, "compacting", opts.Compacting,
		"candidates", len(opts.Candidates))
	return nil
}

// FinishMarking completes the cycle in one pause of the isolate and, on
// the shared-space isolate, of every client: buffered work is published,
// the worklist drained, and every barrier deactivated.
func (i *Isolate) FinishMarking(ctx context.Context) error {
	sp := i.safepoint
	sp.Enter()
	defer sp.Leave()

	if !i.collector.IsMarking() {
		return fmt.Errorf("finish marking %s: %w", i.name, ErrNotMarking)
	}
	scope := i.collector.Scope()

	var paused []*Isolate
	clients := i.coordinator.dispatchToClients
	if i.owner {
		paused = i.global.enterClients()
		defer i.global.leaveClients(paused)
		clients = func(cmd Command) {
			for _, c := range paused {
				c.coordinator.dispatchLocked(cmd)
			}
		}
	}

	i.coordinator.publishAll(clients)
	if i.owner && scope == collector.Major {
		i.markClientReferences(paused)
	}
	marker := i.collector.NewMarker()
	if err := marker.Drain(ctx); err != nil {
		return fmt.Errorf("finish marking %s: %w", i.name, err)
	}
	i.collector.Finish()
	i.coordinator.deactivateAll(clients)
	i.log.Info("marking finished", "scope", scope, "visited", marker.Visited(),
		"remembered_slots", i.collector.RememberedSet().Total())
	return nil
}

// markClientReferences greys every shared object that a client object or
// root points at. Client heaps are roots of the shared heap's cycles.
// When compacting, client slots pointing at objects that move are
// remembered in the client's store.
func (i *Isolate) markClientReferences(clients []*Isolate) int {
	colors := i.collector.MarkingState()
	local := worklist.NewLocal(i.collector.MajorWorklist())
	n := 0
	grey := func(v *heap.Object) {
		if v != nil && v.InSharedWritableHeap() && colors.WhiteToGrey(v) {
			local.Push(v)
			n++
		}
	}
	compacting := i.collector.IsCompacting()
	moves := func(v *heap.Object) bool {
		return compacting && v != nil && v.InSharedWritableHeap() && v.Region().IsEvacuationCandidate()
	}
	for _, c := range clients {
		rec := c.collector.Recorder()
		c.heap.ForEachObject(func(obj *heap.Object) {
			for s := 0; s < obj.NumSlots(); s++ {
				v := obj.Load(s)
				grey(v)
				if moves(v) {
					rec.RecordSharedSlot(obj, obj.Slot(s))
				}
			}
			for r := 0; r < obj.NumRelocs(); r++ {
				rinfo := obj.Reloc(r)
				grey(rinfo.Target())
				if moves(rinfo.Target()) {
					rec.RecordSharedRelocSlot(rinfo)
				}
			}
		})
		for _, id := range c.heap.GetRoots().IDs {
			grey(i.heap.GetObject(id))
		}
	}
	local.Publish()
	if n > 0 {
		i.log.Debug("client references marked", "clients", len(clients), "greyed", n)
	}
	return n
}
