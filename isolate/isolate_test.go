// ABOUTME: Tests for isolates, safepoints and the barrier coordinator
// ABOUTME: Covers shared cycles across owner and clients

package isolate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/remset"
)

func newWorld(t *testing.T, clients int) (*Isolate, []*Isolate) {
	t.Helper()
	flags := config.DefaultFlags()
	owner, err := New(Options{Name: "owner", Flags: flags, SharedSpaceIsolate: true})
	require.NoError(t, err)

	var cs []*Isolate
	for n := 0; n < clients; n++ {
		c, err := New(Options{Name: "client" + string(rune('a'+n)), Flags: flags, SharedIsolate: owner})
		require.NoError(t, err)
		cs = append(cs, c)
	}
	t.Cleanup(func() {
		for _, c := range cs {
			assert.NoError(t, c.Close())
		}
		assert.NoError(t, owner.Close())
	})
	return owner, cs
}

func alloc(t *testing.T, lh *LocalHeap, space heap.Space, slots int) *heap.Object {
	t.Helper()
	obj, err := lh.Allocate(space, slots)
	require.NoError(t, err)
	return obj
}

func TestNewErrors(t *testing.T) {
	flags := config.DefaultFlags()
	solo, err := New(Options{Name: "solo", Flags: flags})
	require.NoError(t, err)
	defer solo.Close()

	_, err = New(Options{Name: "client", Flags: flags, SharedIsolate: solo})
	assert.ErrorIs(t, err, ErrNoSharedIsolate)

	_, err = New(Options{Flags: flags})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	flags.SharedSpace = false
	_, err = New(Options{Name: "owner", Flags: flags, SharedSpaceIsolate: true})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = solo.MainThread().Allocate(heap.SharedSpace, 1)
	assert.ErrorIs(t, err, ErrNoSharedIsolate)

	assert.Error(t, solo.MainThread().Close(), "main thread closes with the isolate")
}

func TestOwnerCloseWithClients(t *testing.T) {
	owner, clients := newWorld(t, 1)
	assert.ErrorIs(t, owner.Close(), ErrInUse)
	assert.Equal(t, 1, owner.GlobalSafepoint().Len())
	assert.Same(t, owner, clients[0].SharedSpaceIsolate())
	assert.Same(t, owner.Registry(), clients[0].Registry())
}

func TestActivateAllPropagatesToClients(t *testing.T) {
	owner, clients := newWorld(t, 2)
	idle, busy := clients[0], clients[1]
	idle.NewThread()
	require.NoError(t, busy.StartMarking(CycleOptions{Scope: collector.Minor}))

	owner.Coordinator().ActivateAll(collector.Major, false)

	assert.True(t, owner.IsMarkingFlag())
	for _, lh := range owner.Safepoint().LocalHeaps() {
		assert.True(t, lh.Barrier().IsActivated())
		assert.False(t, lh.Barrier().IsSharedActivated())
	}
	for _, c := range clients {
		assert.True(t, c.IsMarkingFlag(), c.Name())
		for _, lh := range c.Safepoint().LocalHeaps() {
			assert.True(t, lh.Barrier().IsSharedActivated(), c.Name())
		}
	}
	for _, lh := range idle.Safepoint().LocalHeaps() {
		assert.False(t, lh.Barrier().IsActivated())
	}
	assert.True(t, busy.MainThread().Barrier().IsActivated())
	assert.Equal(t, collector.Minor, busy.MainThread().Barrier().Scope())

	owner.Coordinator().PublishAll()
	owner.Coordinator().DeactivateAll()

	assert.False(t, owner.IsMarkingFlag())
	assert.False(t, idle.IsMarkingFlag(), "idle client returns to its own state")
	assert.True(t, busy.IsMarkingFlag(), "busy client is still in its own cycle")
	for _, c := range clients {
		for _, lh := range c.Safepoint().LocalHeaps() {
			assert.False(t, lh.Barrier().IsSharedActivated())
		}
	}
	assert.True(t, busy.MainThread().Barrier().IsActivated())

	require.NoError(t, busy.FinishMarking(context.Background()))
	assert.False(t, busy.IsMarkingFlag())
	assert.Equal(t, 0, owner.Registry().Len())
}

func TestActivateSetsRegionFlags(t *testing.T) {
	owner, _ := newWorld(t, 0)
	h := owner.Heap()

	owner.Coordinator().ActivateAll(collector.Minor, false)
	assert.True(t, h.Region(heap.NewSpace).IsFlagSet(heap.FlagIncrementalMarking))
	assert.True(t, h.Region(heap.OldSpace).IsFlagSet(heap.FlagIncrementalMarking))
	assert.False(t, h.Region(heap.SharedSpace).IsFlagSet(heap.FlagIncrementalMarking), "minor cycles leave the shared heap alone")
	owner.Coordinator().DeactivateAll()

	owner.Coordinator().ActivateAll(collector.Major, false)
	assert.True(t, h.Region(heap.SharedSpace).IsFlagSet(heap.FlagIncrementalMarking))
	owner.Coordinator().DeactivateAll()

	h.ForEachRegion(func(r *heap.Region) {
		assert.False(t, r.IsFlagSet(heap.FlagIncrementalMarking), "%s", r)
	})
	assert.True(t, h.Region(heap.NewSpace).IsFlagSet(heap.FlagPointersToHereAreInteresting))
	assert.True(t, h.Region(heap.OldSpace).IsFlagSet(heap.FlagPointersFromHereAreInteresting))
}

func TestThreadsStartedDuringMarking(t *testing.T) {
	owner, clients := newWorld(t, 1)
	client := clients[0]

	require.NoError(t, owner.StartMarking(CycleOptions{Scope: collector.Major}))
	lh := owner.NewThread()
	clh := client.NewThread()
	assert.True(t, lh.Barrier().IsActivated())
	assert.True(t, clh.Barrier().IsSharedActivated())
	assert.False(t, clh.Barrier().IsActivated())

	shared := alloc(t, clh, heap.SharedSpace, 1)
	value := alloc(t, clh, heap.SharedSpace, 0)
	clh.WriteField(shared, 0, value)
	require.NoError(t, clh.Close(), "closing publishes shared work")
	assert.False(t, owner.Collector().MajorWorklist().IsEmpty())

	require.NoError(t, owner.FinishMarking(context.Background()))
	assert.False(t, lh.Barrier().IsActivated())
	require.NoError(t, lh.Close())

	after := owner.NewThread()
	assert.False(t, after.Barrier().IsActivated())
	require.NoError(t, after.Close())
}

func TestClientAttachedDuringSharedCycle(t *testing.T) {
	owner, _ := newWorld(t, 0)
	require.NoError(t, owner.StartMarking(CycleOptions{Scope: collector.Major}))

	late, err := New(Options{Name: "late", Flags: config.DefaultFlags(), SharedIsolate: owner})
	require.NoError(t, err)
	assert.True(t, late.IsMarkingFlag())
	assert.True(t, late.MainThread().Barrier().IsSharedActivated())

	require.NoError(t, owner.FinishMarking(context.Background()))
	assert.False(t, late.IsMarkingFlag())
	assert.False(t, late.MainThread().Barrier().IsSharedActivated())
	require.NoError(t, late.Close())
}

func TestMarkingCycleErrors(t *testing.T) {
	owner, _ := newWorld(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, owner.FinishMarking(ctx), ErrNotMarking)
	assert.Error(t, owner.StartMarking(CycleOptions{Scope: collector.Minor, Compacting: true}))
	require.NoError(t, owner.StartMarking(CycleOptions{Scope: collector.Major}))
	assert.ErrorIs(t, owner.StartMarking(CycleOptions{Scope: collector.Major}), ErrMarking)
	require.NoError(t, owner.FinishMarking(ctx))
}

func TestDispatchToOwnerPanics(t *testing.T) {
	owner, _ := newWorld(t, 0)
	assert.Panics(t, func() { owner.Coordinator().Dispatch(CommandPublishShared) })
}

func TestSharedCycleMarksWritesAndClientReferences(t *testing.T) {
	owner, clients := newWorld(t, 1)
	client := clients[0]
	om, cm := owner.MainThread(), client.MainThread()
	colors := owner.Collector().MarkingState()
	ctx := context.Background()

	root := alloc(t, om, heap.OldSpace, 2)
	om.WriteRoot(root)
	shared := alloc(t, om, heap.SharedSpace, 1)
	om.WriteField(root, 1, shared)
	local := alloc(t, cm, heap.OldSpace, 1)
	cm.WriteRoot(local)

	require.NoError(t, owner.StartMarking(CycleOptions{Scope: collector.Major}))
	require.NoError(t, owner.Collector().NewMarker().Drain(ctx))
	assert.True(t, colors.IsBlack(root))
	assert.True(t, colors.IsBlack(shared))

	fresh := alloc(t, om, heap.OldSpace, 0)
	om.WriteField(root, 0, fresh)
	assert.True(t, colors.IsGrey(fresh), "stores into black objects grey the value")

	viaShared := alloc(t, cm, heap.SharedSpace, 0)
	cm.WriteField(shared, 0, viaShared)
	assert.True(t, colors.IsGrey(viaShared))

	viaClient := alloc(t, cm, heap.SharedSpace, 0)
	cm.WriteField(local, 0, viaClient)
	assert.True(t, colors.IsWhite(viaClient), "local stores are traced from the client at the pause")
	assert.Equal(t, 1, client.Collector().RememberedSet().Len(local.Region()))

	garbage := alloc(t, om, heap.OldSpace, 0)

	require.NoError(t, owner.FinishMarking(ctx))
	for _, obj := range []*heap.Object{root, shared, fresh, viaShared, viaClient} {
		assert.True(t, colors.IsBlack(obj), "%s", obj)
	}
	assert.True(t, colors.IsWhite(garbage))
	assert.False(t, client.IsMarkingFlag())
	assert.False(t, cm.Barrier().IsSharedActivated())
	assert.Equal(t, 0, owner.Registry().Len())
}

func TestCompactingCycleRecordsSlots(t *testing.T) {
	iso, err := New(Options{Name: "solo", Flags: config.DefaultFlags()})
	require.NoError(t, err)
	defer iso.Close()
	main := iso.MainThread()
	bg := iso.NewThread()
	ctx := context.Background()

	h := iso.Heap()
	candidate := h.AddRegion(heap.OldSpace)
	host := alloc(t, main, heap.OldSpace, 1)
	main.WriteRoot(host)
	code := bg.AllocateCode(0, []heap.RelocSpec{{Mode: heap.RelocFullEmbeddedObject, PCOffset: 8}})
	main.WriteRoot(code)

	require.NoError(t, iso.StartMarking(CycleOptions{
		Scope: collector.Major, Compacting: true, Candidates: []*heap.Region{candidate},
	}))
	moving := h.Allocate(candidate, 0)
	main.WriteField(host, 0, moving)
	bg.WriteCodeTarget(code, 0, moving)

	store := iso.Collector().RememberedSet()
	assert.Equal(t, 1, store.Len(host.Region()))
	assert.Equal(t, 1, bg.Barrier().PendingTypedSlots(code.Region()))
	assert.Equal(t, 0, store.Len(code.Region()))

	require.NoError(t, iso.FinishMarking(ctx))
	assert.False(t, bg.Barrier().HasPendingTypedSlots())
	assert.Equal(t, 1, store.Len(code.Region()))
	assert.True(t, iso.Collector().MarkingState().IsBlack(moving))
	require.NoError(t, bg.Close())
}

func TestClientRecordsSharedSlotsForCompactingOwner(t *testing.T) {
	owner, clients := newWorld(t, 1)
	client := clients[0]
	om, cm := owner.MainThread(), client.MainThread()
	ctx := context.Background()

	candidate := owner.Heap().AddRegion(heap.SharedSpace)
	host := alloc(t, om, heap.SharedSpace, 1)
	om.WriteRoot(host)

	require.NoError(t, owner.StartMarking(CycleOptions{
		Scope: collector.Major, Compacting: true, Candidates: []*heap.Region{candidate},
	}))
	require.NoError(t, owner.Collector().NewMarker().Drain(ctx))
	require.True(t, owner.Collector().MarkingState().IsBlack(host))
	assert.False(t, cm.Barrier().IsActivated(), "the client runs no cycle of its own")

	moving := owner.Heap().Allocate(candidate, 0)
	cm.WriteField(host, 0, moving)

	store := owner.Collector().RememberedSet()
	assert.Equal(t, 1, store.Len(host.Region()))
	assert.Zero(t, client.Collector().RememberedSet().Total())
	assert.Equal(t, int64(1), cm.Barrier().Stats().SlotsRecorded)

	require.NoError(t, owner.FinishMarking(ctx))
	assert.Equal(t, 1, store.Len(host.Region()))
	assert.True(t, owner.Collector().MarkingState().IsBlack(moving))
}

func TestCompactingSharedCycleRemembersClientSlots(t *testing.T) {
	owner, clients := newWorld(t, 1)
	client := clients[0]
	cm := client.MainThread()

	candidate := owner.Heap().AddRegion(heap.SharedSpace)
	moving, err := cm.AllocateIn(candidate, 0)
	require.NoError(t, err)
	staying := alloc(t, cm, heap.SharedSpace, 0)
	local := alloc(t, cm, heap.OldSpace, 2)
	cm.WriteField(local, 0, moving)
	cm.WriteField(local, 1, staying)

	require.NoError(t, owner.StartMarking(CycleOptions{
		Scope: collector.Major, Compacting: true, Candidates: []*heap.Region{candidate},
	}))
	store := client.Collector().RememberedSet()
	assert.True(t, store.Contains(local.Region(), remset.SlotTagged, local.Slot(0).Offset()))
	assert.False(t, store.Contains(local.Region(), remset.SlotTagged, local.Slot(1).Offset()))
	require.NoError(t, owner.FinishMarking(context.Background()))
	assert.True(t, owner.Collector().MarkingState().IsBlack(moving))

	_, err = cm.AllocateIn(heap.NewHeap("foreign").Region(heap.OldSpace), 0)
	assert.ErrorIs(t, err, ErrForeignRegion)
}

func TestHostlessAndSpecialWrites(t *testing.T) {
	iso, err := New(Options{Name: "solo", Flags: config.DefaultFlags()})
	require.NoError(t, err)
	defer iso.Close()
	main := iso.MainThread()
	colors := iso.Collector().MarkingState()

	young := alloc(t, main, heap.NewSpace, 0)
	array, err := main.AllocateDescriptorArray(heap.OldSpace, 2)
	require.NoError(t, err)
	buf, err := main.AllocateArrayBuffer(heap.NewSpace, nil)
	require.NoError(t, err)

	// Outside a cycle no barrier runs.
	main.WriteRoot(young)
	assert.True(t, colors.IsWhite(young))

	require.NoError(t, iso.StartMarking(CycleOptions{Scope: collector.Major}))
	late := alloc(t, main, heap.OldSpace, 0)
	main.WriteRoot(late)
	assert.True(t, colors.IsGrey(late))

	ext := &heap.Extension{ID: 7}
	main.WriteArrayBufferExtension(buf, ext)
	assert.True(t, ext.IsMarked())

	key := alloc(t, main, heap.OldSpace, 0)
	assert.Equal(t, 1, main.AppendDescriptor(array, key, key, key))
	assert.True(t, colors.IsBlack(array))
	assert.True(t, colors.IsGrey(key))

	require.NoError(t, iso.FinishMarking(context.Background()))
	assert.True(t, colors.IsBlack(young))
}
