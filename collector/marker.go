// ABOUTME: Marker draining a collector's worklist concurrently with mutators
// ABOUTME: Blackens grey objects and greys their children

package collector

import (
	"context"

	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
	"github.com/prateek/markbarrier/worklist"
)

// Marker drains the worklist of the collector's current cycle. One Marker
// is used by one goroutine.
type Marker struct {
	c          *Collector
	scope      Scope
	compacting bool
	epoch      uint32
	local      *worklist.Local
	visited    int
}

// NewMarker creates a marker for the cycle in progress
func (c *Collector) NewMarker() *Marker {
	check.That(c.IsMarking(), "marker created outside a cycle")
	scope := c.Scope()
	return &Marker{
		c:          c,
		scope:      scope,
		compacting: c.IsCompacting(),
		epoch:      c.Epoch(),
		local:      worklist.NewLocal(c.Worklist(scope)),
	}
}

// Visited returns the number of objects scanned so far
func (m *Marker) Visited() int { return m.visited }

// Step scans up to budget objects and returns how many it scanned. It
// scans fewer only when no published work is left. Work left over is
// published so that other markers can take it.
func (m *Marker) Step(ctx context.Context, budget int) (int, error) {
	n := 0
	defer func() {
		m.visited += n
		m.local.Publish()
	}()
	for n < budget {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		obj, ok := m.local.Pop()
		if !ok {
			break
		}
		m.visit(obj)
		n++
	}
	return n, nil
}

// Drain scans until no published work is left
func (m *Marker) Drain(ctx context.Context) error {
	for {
		n, err := m.Step(ctx, worklist.SegmentSize)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (m *Marker) visit(obj *heap.Object) {
	colors := m.c.colors
	if obj.Kind() == heap.KindDescriptorArray {
		// The barrier may already have blackened it and scanned a prefix.
		colors.GreyToBlack(obj)
		m.visitDescriptorArray(obj)
		return
	}
	if !colors.GreyToBlack(obj) {
		return
	}
	for i := 0; i < obj.NumSlots(); i++ {
		m.markSlot(obj, i)
	}
	for i := 0; i < obj.NumRelocs(); i++ {
		rinfo := obj.Reloc(i)
		target := rinfo.Target()
		if target == nil || !m.interesting(target) {
			continue
		}
		m.mark(target)
		if m.compacting {
			m.c.recorder.RecordRelocSlot(rinfo, target)
		}
	}
	if ext := obj.Extension(); ext != nil {
		if m.scope == Minor {
			ext.YoungMark()
		} else {
			ext.Mark()
		}
	}
}

func (m *Marker) visitDescriptorArray(obj *heap.Object) {
	for i := 0; i < heap.DescriptorHeaderSlots; i++ {
		m.markSlot(obj, i)
	}
	n := obj.NumberOfDescriptors()
	from := 0
	if m.scope == Major {
		from = obj.UpdateNumberOfMarkedDescriptors(m.epoch, n)
	}
	for i := heap.DescriptorSlot(from); i < heap.DescriptorSlot(n); i++ {
		m.markSlot(obj, i)
	}
}

func (m *Marker) markSlot(host *heap.Object, i int) {
	value := host.Load(i)
	if value == nil || !m.interesting(value) {
		return
	}
	m.mark(value)
	if m.compacting {
		m.c.recorder.RecordSlot(host, host.Slot(i), value)
	}
}

func (m *Marker) interesting(value *heap.Object) bool {
	if m.scope == Minor && !value.InYoungGeneration() {
		return false
	}
	// Other heaps' objects are traced by their own collectors.
	return value.Region().Heap() == m.c.heap
}

func (m *Marker) mark(value *heap.Object) {
	if m.c.colors.WhiteToGrey(value) {
		m.local.Push(value)
	}
}
