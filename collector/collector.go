// ABOUTME: Collector state shared by every marking barrier of one heap
// ABOUTME: Owns the major/minor worklists, cycle epoch and remembered set

// Package collector holds the per-heap marking state the barriers feed:
// the global worklists, the color state, the remembered set and the cycle
// epoch. Its Marker drains the worklists; choosing when to collect is left
// to the caller.
package collector

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/prateek/markbarrier/color"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
	"github.com/prateek/markbarrier/remset"
	"github.com/prateek/markbarrier/retain"
	"github.com/prateek/markbarrier/worklist"
)

// Scope is the generation a cycle collects
type Scope uint32

const (
	Major Scope = iota // whole heap
	Minor              // young generation only
)

func (s Scope) String() string {
	switch s {
	case Major:
		return "major"
	case Minor:
		return "minor"
	}
	return fmt.Sprintf("scope(%d)", uint32(s))
}

// ParseScope maps "major" or "minor" to a Scope
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "major":
		return Major, nil
	case "minor":
		return Minor, nil
	}
	return 0, fmt.Errorf("unknown scope %q", s)
}

// Collector is the marking state of one heap
type Collector struct {
	heap      *heap.Heap
	major     *worklist.Worklist
	minor     *worklist.Worklist
	colors    *color.MarkingState
	store     *remset.Store
	recorder  *remset.Recorder
	retainers *retain.Recorder
	log       *slog.Logger

	epoch      atomic.Uint32
	marking    atomic.Bool
	scope      atomic.Uint32
	compacting atomic.Bool
}

// New creates a collector for h
func New(h *heap.Heap, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	store := remset.NewStore()
	return &Collector{
		heap:      h,
		major:     worklist.New(),
		minor:     worklist.New(),
		colors:    color.NewMarkingState(),
		store:     store,
		recorder:  remset.NewRecorder(store),
		retainers: retain.NewRecorder(),
		log:       log.With("heap", h.Name()),
	}
}

// Heap returns the collected heap
func (c *Collector) Heap() *heap.Heap { return c.heap }

// MajorWorklist returns the global major worklist
func (c *Collector) MajorWorklist() *worklist.Worklist { return c.major }

// MinorWorklist returns the global minor worklist
func (c *Collector) MinorWorklist() *worklist.Worklist { return c.minor }

// Worklist returns the global worklist for scope
func (c *Collector) Worklist(scope Scope) *worklist.Worklist {
	if scope == Minor {
		return c.minor
	}
	return c.major
}

// MarkingState returns the color state provider
func (c *Collector) MarkingState() *color.MarkingState { return c.colors }

// RememberedSet returns the old-to-old remembered set
func (c *Collector) RememberedSet() *remset.Store { return c.store }

// Recorder returns the slot recorder writing into the remembered set
func (c *Collector) Recorder() *remset.Recorder { return c.recorder }

// Retainers returns the retaining root recorder
func (c *Collector) Retainers() *retain.Recorder { return c.retainers }

// Epoch returns the current major cycle epoch
func (c *Collector) Epoch() uint32 { return c.epoch.Load() }

// IsMarking reports whether a cycle is in progress
func (c *Collector) IsMarking() bool { return c.marking.Load() }

// Scope returns the scope of the current or last cycle
func (c *Collector) Scope() Scope { return Scope(c.scope.Load()) }

// IsCompacting reports whether the current cycle compacts
func (c *Collector) IsCompacting() bool { return c.compacting.Load() }

// Start begins a cycle: it resets colors for the collected generation,
// flags the evacuation candidates and greys the roots.
func (c *Collector) Start(scope Scope, compacting bool, candidates []*heap.Region) {
	check.That(!c.marking.Load(), "collector for %s already marking", c.heap.Name())
	check.Implies(compacting, scope == Major, "minor cycles do not compact")

	if scope == Major {
		c.epoch.Add(1)
		c.retainers.Reset()
		c.store.Clear()
		c.heap.ForEachRegion(func(r *heap.Region) { r.ClearFlag(heap.FlagEvacuationCandidate) })
		for _, r := range candidates {
			r.SetFlag(heap.FlagEvacuationCandidate)
		}
	}
	c.heap.ForEachObject(func(obj *heap.Object) {
		if scope == Major || obj.InYoungGeneration() {
			c.colors.Clear(obj)
			if ext := obj.Extension(); ext != nil {
				ext.Clear()
			}
		}
	})

	local := worklist.NewLocal(c.Worklist(scope))
	for _, id := range c.heap.GetRoots().IDs {
		obj := c.heap.GetObject(id)
		if obj == nil || (scope == Minor && !obj.InYoungGeneration()) {
			continue
		}
		if c.colors.WhiteToGrey(obj) {
			local.Push(obj)
		}
	}
	if scope == Minor {
		// Old objects are roots of a minor cycle.
		c.heap.ForEachObject(func(obj *heap.Object) {
			if obj.InYoungGeneration() {
				return
			}
			grey := func(v *heap.Object) {
				if v != nil && v.InYoungGeneration() && v.Region().Heap() == c.heap && c.colors.WhiteToGrey(v) {
					local.Push(v)
				}
			}
			for i := 0; i < obj.NumSlots(); i++ {
				grey(obj.Load(i))
			}
			for i := 0; i < obj.NumRelocs(); i++ {
				grey(obj.Reloc(i).Target())
			}
		})
	}
	local.Publish()

	c.scope.Store(uint32(scope))
	c.compacting.Store(compacting)
	c.marking.Store(true)
	c.log.Debug("marking started", "scope", scope, "compacting", compacting, "epoch", c.Epoch())
}

// Finish ends the cycle. The scope's worklist must be drained.
func (c *Collector) Finish() {
	check.That(c.marking.Load(), "collector for %s not marking", c.heap.Name())
	scope := c.Scope()
	check.That(c.Worklist(scope).IsEmpty(), "%s worklist not drained", scope)
	c.marking.Store(false)
	c.compacting.Store(false)
	c.log.Debug("marking finished", "scope", scope, "remembered_slots", c.store.Total())
}
