// ABOUTME: Mutator goroutines issuing random writes through a thread
// ABOUTME: Every write respects the heap's cross-isolate pointer rules

package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
	"github.com/prateek/markbarrier/isolate"
)

// publishEvery is the number of steps between publishes of a thread's
// buffered marking work
const publishEvery = 32

var extensionIDs atomic.Uint64

type mutator struct {
	w    *World
	iso  *isolate.Isolate
	lh   *isolate.LocalHeap
	rng  *rand.Rand
	own  *pool
	main bool
}

func (w *World) newMutator(iso *isolate.Isolate, lh *isolate.LocalHeap, seed int64) *mutator {
	return &mutator{
		w:    w,
		iso:  iso,
		lh:   lh,
		rng:  newRand(seed),
		own:  w.pools[iso],
		main: lh.IsMainThread(),
	}
}

// run performs steps random writes. Contract violations raised by the
// barrier come back as errors.
func (m *mutator) run(ctx context.Context, steps int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok := r.(*check.Violation)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("%s thread %d: %w", m.iso.Name(), m.lh.ThreadID(), v)
		}
	}()
	defer m.lh.Publish()

	for n := 0; n < steps; n++ {
		if n%publishEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.lh.Publish()
		}
		if err := m.step(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mutator) step() error {
	switch n := m.rng.Intn(100); {
	case n < 15:
		return m.allocate()
	case n < 25:
		m.clearField()
	case n < 33:
		m.writeCodeTarget()
	case n < 38 && m.main:
		m.appendDescriptor()
	case n < 42 && m.main:
		m.writeExtension()
	case n < 45 && m.main:
		m.writeRoot()
	case n < 46 && m.main:
		return m.spawn()
	default:
		m.writeField()
	}
	return nil
}

func (m *mutator) usesShared() bool {
	return m.iso.SharedHeap() != nil && m.w.shared.len() > 0
}

// host picks an object whose plain slots the thread may write
func (m *mutator) host() *heap.Object {
	writable := func(o *heap.Object) bool {
		return o.NumSlots() > 0 && o.Kind() != heap.KindDescriptorArray
	}
	if m.usesShared() && m.rng.Intn(5) == 0 {
		return m.w.shared.pick(m.rng, writable)
	}
	return m.own.pick(m.rng, writable)
}

// value picks an object host may point at. Shared objects only point at
// shared objects.
func (m *mutator) value(host *heap.Object) *heap.Object {
	if host.InSharedWritableHeap() || (m.usesShared() && m.rng.Intn(5) == 0) {
		return m.w.shared.pick(m.rng, nil)
	}
	return m.own.pick(m.rng, nil)
}

func (m *mutator) writeField() {
	host := m.host()
	if host == nil {
		return
	}
	if v := m.value(host); v != nil {
		m.lh.WriteField(host, m.rng.Intn(host.NumSlots()), v)
	}
}

func (m *mutator) clearField() {
	if host := m.host(); host != nil {
		m.lh.WriteField(host, m.rng.Intn(host.NumSlots()), nil)
	}
}

// allocate creates an object, fills its first slot and links it from an
// existing host
func (m *mutator) allocate() error {
	space := heap.NewSpace
	switch n := m.rng.Intn(10); {
	case n < 1 && m.usesShared():
		space = heap.SharedSpace
	case n < 4:
		space = heap.OldSpace
	}
	var (
		obj *heap.Object
		err error
	)
	if space == heap.SharedSpace && m.w.movable != nil && m.rng.Intn(2) == 0 {
		obj, err = m.lh.AllocateIn(m.w.movable, 1+m.rng.Intn(3))
	} else {
		obj, err = m.lh.Allocate(space, 1+m.rng.Intn(3))
	}
	if err != nil {
		return err
	}
	if v := m.value(obj); v != nil {
		m.lh.WriteField(obj, 0, v)
	}

	p := m.own
	if obj.InSharedWritableHeap() {
		p = m.w.shared
	}
	for try := 0; try < 4; try++ {
		host := m.host()
		if host == nil || (host.InSharedWritableHeap() && !obj.InSharedWritableHeap()) {
			continue
		}
		m.lh.WriteField(host, m.rng.Intn(host.NumSlots()), obj)
		break
	}
	p.add(obj)
	return nil
}

func (m *mutator) writeCodeTarget() {
	code := m.own.pick(m.rng, func(o *heap.Object) bool { return o.NumRelocs() > 0 })
	if code == nil {
		return
	}
	i := m.rng.Intn(code.NumRelocs())
	var v *heap.Object
	switch mode := code.Reloc(i).Mode(); {
	case mode.IsCodeTarget():
		v = m.own.pick(m.rng, func(o *heap.Object) bool { return o.Kind() == heap.KindCode })
	case mode.IsEmbeddedObject():
		v = m.own.pick(m.rng, nil)
	}
	if v != nil {
		m.lh.WriteCodeTarget(code, i, v)
	}
}

func (m *mutator) appendDescriptor() {
	array := m.own.pick(m.rng, func(o *heap.Object) bool {
		return o.Kind() == heap.KindDescriptorArray && o.NumberOfDescriptors() < o.DescriptorCapacity()
	})
	if array == nil {
		return
	}
	key, details, value := m.own.pick(m.rng, nil), m.own.pick(m.rng, nil), m.own.pick(m.rng, nil)
	m.lh.AppendDescriptor(array, key, details, value)
}

func (m *mutator) writeExtension() {
	buf := m.own.pick(m.rng, func(o *heap.Object) bool { return o.Kind() == heap.KindArrayBuffer })
	if buf == nil {
		return
	}
	m.lh.WriteArrayBufferExtension(buf, &heap.Extension{ID: 1<<32 + extensionIDs.Add(1)})
}

func (m *mutator) writeRoot() {
	if v := m.own.pick(m.rng, nil); v != nil {
		m.lh.WriteRoot(v)
	}
}

// spawn starts a short-lived thread, which activates its barrier if a
// cycle is running, writes through it and closes it again
func (m *mutator) spawn() error {
	lh := m.iso.NewThread()
	child := m.w.newMutator(m.iso, lh, m.rng.Int63())
	for n := 0; n < 8; n++ {
		child.writeField()
	}
	return lh.Close()
}
