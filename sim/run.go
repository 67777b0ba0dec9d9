// ABOUTME: Runs configured marking cycles against concurrent mutators
// ABOUTME: Verifies after each cycle that reachable objects are marked

package sim

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/isolate"
	"github.com/prateek/markbarrier/marking"
	"github.com/prateek/markbarrier/remset"
	"github.com/prateek/markbarrier/retain"
)

// markerBudget is the number of objects the concurrent marker visits per
// step
const markerBudget = 64

const topRetainerCount = 3

// CycleReport summarizes one marking cycle
type CycleReport struct {
	Isolate    string
	Scope      collector.Scope
	Compacting bool
	// Marked is the number of objects of the isolate's heap left non-white
	Marked     int
	Objects    int
	Remembered int
	// RetainingRoots counts objects the barrier reported as roots
	RetainingRoots int
	Barrier        marking.Stats
	Elapsed        time.Duration
	// Floating is the size of objects marked but unreachable at the end
	Floating     uint64
	TopRetainers []Retainer
}

// Retainer is a barrier-greyed object and the bytes it keeps alive
type Retainer struct {
	ID       heap.ObjID
	Retained uint64
}

// Report is the result of Run
type Report struct {
	Cycles []CycleReport
}

// Run runs every configured cycle in order
func (w *World) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	for n, spec := range w.cfg.Cycles {
		cr, err := w.RunCycle(ctx, spec, w.cfg.Seed+int64(n)*7919)
		if err != nil {
			return report, fmt.Errorf("cycle %d: %w", n, err)
		}
		report.Cycles = append(report.Cycles, *cr)
	}
	return report, nil
}

// RunCycle runs one marking cycle. Every thread of every isolate mutates
// the heap concurrently with the marker between StartMarking and
// FinishMarking.
func (w *World) RunCycle(ctx context.Context, spec config.CycleSpec, seed int64) (*CycleReport, error) {
	iso, err := w.Isolate(spec.Isolate)
	if err != nil {
		return nil, err
	}
	scope, err := collector.ParseScope(spec.Scope)
	if err != nil {
		return nil, err
	}

	opts := isolate.CycleOptions{Scope: scope, Compacting: spec.Compacting}
	if spec.Compacting {
		opts.Candidates = []*heap.Region{iso.Heap().Region(heap.OldSpace)}
		if iso.IsSharedSpaceIsolate() && w.movable != nil {
			opts.Candidates = append(opts.Candidates, w.movable)
		}
	}

	before := w.barrierStats()
	start := time.Now()
	if err := iso.StartMarking(opts); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		mg, mctx := errgroup.WithContext(gctx)
		n := int64(0)
		for _, other := range w.isolates {
			for _, lh := range w.threads[other] {
				m := w.newMutator(other, lh, seed+n)
				n++
				mg.Go(func() error { return m.run(mctx, spec.MutatorSteps) })
			}
		}
		return mg.Wait()
	})
	g.Go(func() error {
		marker := iso.Collector().NewMarker()
		for {
			select {
			case <-done:
				return nil
			default:
			}
			n, err := marker.Step(gctx, markerBudget)
			if err != nil {
				return err
			}
			if n == 0 {
				runtime.Gosched()
			}
		}
	})
	if err := g.Wait(); err != nil {
		// The pause still ends the cycle so the isolate stays usable.
		return nil, errors.Join(err, iso.FinishMarking(context.Background()))
	}

	if err := iso.FinishMarking(ctx); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	reachable, err := w.verify(iso, scope)
	if err != nil {
		return nil, err
	}
	if spec.Compacting {
		if err := w.remembered(iso, opts.Candidates); err != nil {
			return nil, err
		}
	}

	c := iso.Collector()
	cr := &CycleReport{
		Isolate:        iso.Name(),
		Scope:          scope,
		Compacting:     spec.Compacting,
		Objects:        iso.Heap().NumObjects(),
		Remembered:     c.RememberedSet().Total(),
		RetainingRoots: len(c.Retainers().Roots().IDs),
		Barrier:        diffStats(w.barrierStats(), before),
		Elapsed:        elapsed,
		Floating:       floatingGarbage(iso, scope, reachable),
	}
	if w.cfg.Flags.TrackRetainingPath && scope == collector.Major {
		cr.TopRetainers = topRetainers(iso.Heap(), c.Retainers().Roots(), topRetainerCount)
	}
	iso.Heap().ForEachObject(func(obj *heap.Object) {
		if !c.MarkingState().IsWhite(obj) {
			cr.Marked++
		}
	})
	w.log.Info("cycle verified", "isolate", cr.Isolate, "scope", scope, "compacting", spec.Compacting,
		"marked", cr.Marked, "objects", cr.Objects, "writes", cr.Barrier.Writes,
		"greyed", cr.Barrier.Greyed, "slots", cr.Barrier.SlotsRecorded, "floating", cr.Floating, "elapsed", elapsed)
	return cr, nil
}

// verify checks that every object the cycle collects and that is reachable
// from its roots is marked. It returns the reachable set.
func (w *World) verify(iso *isolate.Isolate, scope collector.Scope) (map[heap.ObjID]bool, error) {
	colors := iso.Collector().MarkingState()
	seen := w.reachable(iso, scope)
	for id := range seen {
		obj := iso.Heap().GetObject(id)
		if (scope == collector.Major || obj.InYoungGeneration()) && colors.IsWhite(obj) {
			return nil, w.lost(iso, obj)
		}
	}
	return seen, nil
}

// reachable returns the objects of the isolate's heap reachable from its
// roots. Client heaps count as roots of the shared-space isolate's major
// cycles.
func (w *World) reachable(iso *isolate.Isolate, scope collector.Scope) map[heap.ObjID]bool {
	h := iso.Heap()
	seen := make(map[heap.ObjID]bool)
	var queue []*heap.Object
	push := func(obj *heap.Object) {
		if obj == nil || obj.Region().Heap() != h || seen[obj.ID()] {
			return
		}
		seen[obj.ID()] = true
		queue = append(queue, obj)
	}
	edges := func(obj *heap.Object) {
		for s := 0; s < obj.NumSlots(); s++ {
			push(obj.Load(s))
		}
		for r := 0; r < obj.NumRelocs(); r++ {
			push(obj.Reloc(r).Target())
		}
	}

	for _, id := range h.GetRoots().IDs {
		push(h.GetObject(id))
	}
	if iso.IsSharedSpaceIsolate() && scope == collector.Major {
		iso.GlobalSafepoint().IterateClientIsolates(func(client *isolate.Isolate) {
			client.Heap().ForEachObject(edges)
			for _, id := range client.Heap().GetRoots().IDs {
				push(h.GetObject(id))
			}
		})
	}
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]
		edges(obj)
	}
	return seen
}

// remembered checks that the cycle recorded every slot evacuation must
// update: slots of marked objects outside the candidates that point into
// them, and on the shared-space isolate the same slots of every client
// object.
func (w *World) remembered(iso *isolate.Isolate, candidates []*heap.Region) error {
	moving := make(map[*heap.Region]bool, len(candidates))
	for _, r := range candidates {
		moving[r] = true
	}
	var err error
	scan := func(store *remset.Store, obj *heap.Object) {
		if err != nil || moving[obj.Region()] {
			return
		}
		for s := 0; s < obj.NumSlots(); s++ {
			v := obj.Load(s)
			if v != nil && moving[v.Region()] && !store.Contains(obj.Region(), remset.SlotTagged, obj.Slot(s).Offset()) {
				err = w.forgotten(iso, obj, v)
				return
			}
		}
		for r := 0; r < obj.NumRelocs(); r++ {
			rinfo := obj.Reloc(r)
			v, mode := rinfo.Target(), rinfo.Mode()
			if v == nil || !moving[v.Region()] || (!mode.IsEmbeddedObject() && !mode.IsCodeTarget()) {
				continue
			}
			info := remset.ProcessRelocInfo(rinfo)
			if !store.Contains(info.Region, info.Type, info.Offset) {
				err = w.forgotten(iso, obj, v)
				return
			}
		}
	}

	colors := iso.Collector().MarkingState()
	store := iso.Collector().RememberedSet()
	iso.Heap().ForEachObject(func(obj *heap.Object) {
		if !colors.IsWhite(obj) {
			scan(store, obj)
		}
	})
	if iso.IsSharedSpaceIsolate() {
		iso.GlobalSafepoint().IterateClientIsolates(func(c *isolate.Isolate) {
			cs := c.Collector().RememberedSet()
			c.Heap().ForEachObject(func(obj *heap.Object) { scan(cs, obj) })
		})
	}
	return err
}

func (w *World) forgotten(iso *isolate.Isolate, host, value *heap.Object) error {
	w.log.Error("slot into evacuation candidate not remembered", "isolate", iso.Name(), "host", host, "value", value)
	return fmt.Errorf("%w: %s -> %s in %s cycle", ErrForgottenSlot, host, value, iso.Name())
}

// floatingGarbage sums the sizes of collected objects the cycle marked
// although nothing reachable points at them any more
func floatingGarbage(iso *isolate.Isolate, scope collector.Scope, reachable map[heap.ObjID]bool) uint64 {
	colors := iso.Collector().MarkingState()
	var n uint64
	iso.Heap().ForEachObject(func(obj *heap.Object) {
		if scope == collector.Minor && !obj.InYoungGeneration() {
			return
		}
		if !reachable[obj.ID()] && !colors.IsWhite(obj) {
			n += uint64(obj.Size())
		}
	})
	return n
}

// topRetainers ranks the objects the barrier greyed as roots by the bytes
// they keep alive
func topRetainers(h *heap.Heap, barrierRoots heap.Roots, n int) []Retainer {
	if len(barrierRoots.IDs) == 0 {
		return nil
	}
	roots := h.GetRoots()
	roots.IDs = append(roots.IDs, barrierRoots.IDs...)
	sizes := retain.RetainedSizes(h, roots, barrierRoots.IDs)

	out := make([]Retainer, 0, len(sizes))
	for id, size := range sizes {
		out = append(out, Retainer{ID: id, Retained: size})
	}
	slices.SortFunc(out, func(a, b Retainer) int {
		if a.Retained != b.Retained {
			return cmp.Compare(b.Retained, a.Retained)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (w *World) lost(iso *isolate.Isolate, obj *heap.Object) error {
	h := iso.Heap()
	path := "none"
	if paths := retain.PathsToRoots(h, h.GetRoots(), obj.ID(), 1); len(paths) > 0 {
		path = paths[0].String()
	}
	w.log.Error("reachable object left unmarked", "isolate", iso.Name(), "object", obj, "path", path)
	return fmt.Errorf("%w: %s in %s, path %s", ErrLostObject, obj, iso.Name(), path)
}

func (w *World) barrierStats() marking.Stats {
	var total marking.Stats
	for _, iso := range w.isolates {
		for _, lh := range w.threads[iso] {
			s := lh.Barrier().Stats()
			total.Writes += s.Writes
			total.Greyed += s.Greyed
			total.SharedGreyed += s.SharedGreyed
			total.SlotsRecorded += s.SlotsRecorded
			total.TypedSlotsMerged += s.TypedSlotsMerged
		}
	}
	return total
}

func diffStats(after, before marking.Stats) marking.Stats {
	return marking.Stats{
		Writes:           after.Writes - before.Writes,
		Greyed:           after.Greyed - before.Greyed,
		SharedGreyed:     after.SharedGreyed - before.SharedGreyed,
		SlotsRecorded:    after.SlotsRecorded - before.SlotsRecorded,
		TypedSlotsMerged: after.TypedSlotsMerged - before.TypedSlotsMerged,
	}
}
