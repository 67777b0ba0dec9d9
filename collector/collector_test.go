// ABOUTME: Tests for cycle start, root seeding and the concurrent marker
// ABOUTME: Uses small heaps built by hand

package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
)

func newHeap() *heap.Heap {
	h := heap.NewHeap("test")
	for _, s := range []heap.Space{heap.NewSpace, heap.OldSpace, heap.CodeSpace} {
		h.AddRegion(s)
	}
	return h
}

func alloc(h *heap.Heap, space heap.Space, slots ...*heap.Object) *heap.Object {
	obj := h.Allocate(h.Region(space), len(slots))
	for i, v := range slots {
		obj.Store(i, v)
	}
	return obj
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("Major")
	require.NoError(t, err)
	assert.Equal(t, Major, s)
	s, err = ParseScope("minor")
	require.NoError(t, err)
	assert.Equal(t, Minor, s)
	_, err = ParseScope("full")
	assert.Error(t, err)
	assert.Equal(t, "scope(7)", Scope(7).String())
}

func TestStartMajor(t *testing.T) {
	h := newHeap()
	leaf := alloc(h, heap.OldSpace)
	root := alloc(h, heap.OldSpace, leaf)
	h.AddRoot(root)
	c := New(h, nil)

	// Colors from an earlier cycle are reset.
	c.MarkingState().WhiteToGrey(leaf)
	candidate := h.AddRegion(heap.OldSpace)

	c.Start(Major, true, []*heap.Region{candidate})
	assert.True(t, c.IsMarking())
	assert.True(t, c.IsCompacting())
	assert.Equal(t, Major, c.Scope())
	assert.Equal(t, uint32(1), c.Epoch())
	assert.True(t, candidate.IsEvacuationCandidate())
	assert.False(t, h.Region(heap.OldSpace).IsEvacuationCandidate())
	assert.True(t, c.MarkingState().IsGrey(root))
	assert.True(t, c.MarkingState().IsWhite(leaf))
	assert.False(t, c.MajorWorklist().IsEmpty())

	require.NoError(t, c.NewMarker().Drain(context.Background()))
	c.Finish()
	assert.False(t, c.IsMarking())
	assert.True(t, c.MarkingState().IsBlack(leaf))

	// The next major cycle clears candidates it did not name.
	c.Start(Major, false, nil)
	assert.False(t, candidate.IsEvacuationCandidate())
	assert.Equal(t, uint32(2), c.Epoch())
}

func TestStartMinorSeedsOldToYoung(t *testing.T) {
	h := newHeap()
	viaSlot := alloc(h, heap.NewSpace)
	viaReloc := alloc(h, heap.NewSpace)
	unreached := alloc(h, heap.NewSpace)
	old := alloc(h, heap.OldSpace, viaSlot)
	code := h.AllocateCode(h.Region(heap.CodeSpace), 0, []heap.RelocSpec{{Mode: heap.RelocFullEmbeddedObject}})
	code.Reloc(0).SetTarget(viaReloc)
	h.AddRoot(old)
	c := New(h, nil)

	c.Start(Minor, false, nil)
	colors := c.MarkingState()
	assert.True(t, colors.IsWhite(old), "old roots are not part of a minor cycle")
	assert.True(t, colors.IsGrey(viaSlot))
	assert.True(t, colors.IsGrey(viaReloc))
	assert.True(t, colors.IsWhite(unreached))
	assert.True(t, c.MajorWorklist().IsEmpty())
	assert.False(t, c.MinorWorklist().IsEmpty())
	assert.Equal(t, uint32(0), c.Epoch())
}

func TestMarkerTracesReachableObjects(t *testing.T) {
	h := newHeap()
	other := newHeap()
	foreign := alloc(other, heap.OldSpace)
	young := alloc(h, heap.NewSpace)
	mid := alloc(h, heap.OldSpace, young, foreign)
	code := h.AllocateCode(h.Region(heap.CodeSpace), 0, []heap.RelocSpec{{Mode: heap.RelocCodeTarget, PCOffset: 4}})
	target := h.AllocateCode(h.Region(heap.CodeSpace), 0, nil)
	code.Reloc(0).SetTarget(target)
	root := alloc(h, heap.OldSpace, mid, code)
	garbage := alloc(h, heap.OldSpace, mid)
	buf := h.AllocateArrayBuffer(h.Region(heap.NewSpace))
	ext := &heap.Extension{ID: 1}
	buf.SetExtension(ext)
	mid2 := alloc(h, heap.OldSpace, buf)
	root2 := alloc(h, heap.OldSpace, mid2)
	h.AddRoot(root)
	h.AddRoot(root2)

	c := New(h, nil)
	c.Start(Major, false, nil)
	m := c.NewMarker()
	require.NoError(t, m.Drain(context.Background()))
	c.Finish()

	colors := c.MarkingState()
	for _, obj := range []*heap.Object{root, mid, young, code, target, root2, mid2, buf} {
		assert.True(t, colors.IsBlack(obj), obj.String())
	}
	assert.True(t, colors.IsWhite(garbage))
	assert.True(t, colors.IsWhite(foreign), "other heaps are traced by their own collectors")
	assert.True(t, ext.IsMarked())
	assert.Equal(t, 8, m.Visited())
}

func TestMarkerMinorSkipsOldObjects(t *testing.T) {
	h := newHeap()
	old := alloc(h, heap.OldSpace)
	young2 := alloc(h, heap.NewSpace)
	young := alloc(h, heap.NewSpace, old, young2)
	h.AddRoot(young)

	c := New(h, nil)
	c.Start(Minor, false, nil)
	require.NoError(t, c.NewMarker().Drain(context.Background()))
	c.Finish()

	assert.True(t, c.MarkingState().IsBlack(young))
	assert.True(t, c.MarkingState().IsBlack(young2))
	assert.True(t, c.MarkingState().IsWhite(old))
}

func TestMarkerRecordsSlotsWhenCompacting(t *testing.T) {
	h := newHeap()
	candidate := h.AddRegion(heap.OldSpace)
	moving := h.Allocate(candidate, 0)
	root := alloc(h, heap.OldSpace, moving)
	code := h.AllocateCode(h.Region(heap.CodeSpace), 0, []heap.RelocSpec{
		{Mode: heap.RelocFullEmbeddedObject, PCOffset: 8},
		{Mode: heap.RelocExternalReference, PCOffset: 16},
	})
	code.Reloc(0).SetTarget(moving)
	code.Reloc(1).SetTarget(moving)
	h.AddRoot(root)
	h.AddRoot(code)

	c := New(h, nil)
	c.Start(Major, true, []*heap.Region{candidate})
	require.NoError(t, c.NewMarker().Drain(context.Background()))
	c.Finish()

	store := c.RememberedSet()
	assert.Equal(t, 1, store.Len(h.Region(heap.OldSpace)))
	assert.Equal(t, 1, store.Len(h.Region(heap.CodeSpace)))
	assert.Equal(t, 2, store.Total())
}

func TestMarkerStep(t *testing.T) {
	h := newHeap()
	var prev *heap.Object
	for i := 0; i < 10; i++ {
		prev = alloc(h, heap.OldSpace, prev)
	}
	h.AddRoot(prev)

	c := New(h, nil)
	c.Start(Major, false, nil)
	m := c.NewMarker()
	n, err := m.Step(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = m.Step(ctx, 4)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.False(t, c.MajorWorklist().IsEmpty(), "leftover work stays published")

	// A second marker picks up the published work.
	require.NoError(t, c.NewMarker().Drain(context.Background()))
	assert.Equal(t, 4, m.Visited())
	c.Finish()
}

func TestCycleContract(t *testing.T) {
	h := newHeap()
	h.AddRoot(alloc(h, heap.OldSpace))
	c := New(h, nil)

	violation := func(fn func()) {
		t.Helper()
		defer func() {
			_, ok := recover().(*check.Violation)
			assert.True(t, ok, "expected a check violation")
		}()
		fn()
	}

	violation(func() { c.NewMarker() })
	violation(func() { c.Finish() })
	violation(func() { c.Start(Minor, true, nil) })

	c.Start(Major, false, nil)
	violation(func() { c.Start(Major, false, nil) })
	violation(func() { c.Finish() })
}
