// ABOUTME: Memory regions (pages) and their generation flags
// ABOUTME: Flags are tagged at marking activation for fast barrier checks

package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RegionFlag is a bit in a region's flag word
type RegionFlag uint32

const (
	// FlagIncrementalMarking is set on every region of a heap whose
	// marking barrier is active.
	FlagIncrementalMarking RegionFlag = 1 << iota
	FlagPointersToHereAreInteresting
	FlagPointersFromHereAreInteresting
	// FlagEvacuationCandidate marks a region the current compacting cycle
	// will move objects out of.
	FlagEvacuationCandidate
)

// Region is a contiguous chunk of a space. Object offsets and slot offsets
// are relative to the start of their region.
type Region struct {
	id    int
	space Space
	heap  *Heap
	flags atomic.Uint32
	top   atomic.Uint32

	// mu guards merges into this region's remembered set.
	mu sync.Mutex
}

func newRegion(h *Heap, id int, space Space) *Region {
	r := &Region{id: id, space: space, heap: h}
	if !space.IsYoung() {
		r.SetFlag(FlagPointersFromHereAreInteresting)
	}
	return r
}

// ID returns the region's identifier, unique within its heap
func (r *Region) ID() int { return r.id }

// Space returns the space the region belongs to
func (r *Region) Space() Space { return r.space }

// Heap returns the heap that owns the region
func (r *Region) Heap() *Heap { return r.heap }

// Mutex returns the lock guarding this region's remembered set merges
func (r *Region) Mutex() *sync.Mutex { return &r.mu }

// InYoungGeneration reports whether the region is part of the young generation
func (r *Region) InYoungGeneration() bool { return r.space.IsYoung() }

// InSharedWritableHeap reports whether the region is in the shared writable heap
func (r *Region) InSharedWritableHeap() bool { return r.space.IsSharedWritable() }

// IsFlagSet reports whether f is set
func (r *Region) IsFlagSet(f RegionFlag) bool {
	return RegionFlag(r.flags.Load())&f != 0
}

// SetFlag sets f
func (r *Region) SetFlag(f RegionFlag) {
	for {
		old := r.flags.Load()
		if r.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearFlag clears f
func (r *Region) ClearFlag(f RegionFlag) {
	for {
		old := r.flags.Load()
		if r.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// IsEvacuationCandidate reports whether objects will be moved out of the region
func (r *Region) IsEvacuationCandidate() bool {
	return r.IsFlagSet(FlagEvacuationCandidate)
}

// SetOldGenerationFlags tags an old-generation region for the start or
// end of marking. Pointers from old regions are always interesting to the
// generational barrier.
func (r *Region) SetOldGenerationFlags(marking bool) {
	if marking {
		r.SetFlag(FlagPointersToHereAreInteresting)
		r.SetFlag(FlagPointersFromHereAreInteresting)
		r.SetFlag(FlagIncrementalMarking)
		return
	}
	r.ClearFlag(FlagPointersToHereAreInteresting)
	r.SetFlag(FlagPointersFromHereAreInteresting)
	r.ClearFlag(FlagIncrementalMarking)
}

// SetYoungGenerationFlags tags a young-generation region for the start or
// end of marking. Pointers into young regions are always interesting.
func (r *Region) SetYoungGenerationFlags(marking bool) {
	r.SetFlag(FlagPointersToHereAreInteresting)
	if marking {
		r.SetFlag(FlagPointersFromHereAreInteresting)
		r.SetFlag(FlagIncrementalMarking)
		return
	}
	r.ClearFlag(FlagPointersFromHereAreInteresting)
	r.ClearFlag(FlagIncrementalMarking)
}

// SetGenerationFlags applies the young or old tagging depending on the space
func (r *Region) SetGenerationFlags(marking bool) {
	if r.InYoungGeneration() {
		r.SetYoungGenerationFlags(marking)
	} else {
		r.SetOldGenerationFlags(marking)
	}
}

func (r *Region) allocate(size uint32) uint32 {
	return r.top.Add(size) - size
}

func (r *Region) String() string {
	return fmt.Sprintf("%s/%s#%d", r.heap.name, r.space, r.id)
}
