// ABOUTME: Barrier path for descriptor arrays appended during marking
// ABOUTME: Marks only the descriptors added since the array was last visited

package marking

import (
	"github.com/prateek/markbarrier/collector"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/internal/check"
)

// RecordDescriptorArray records that the descriptor array host now has
// liveDescriptorCount descriptors.
//
// The array is blackened right away instead of greyed: a minor cycle
// visits every object at most once, and an array promoted while grey
// would never have descriptors appended after that visit scanned.
func (b *Barrier) RecordDescriptorArray(host *heap.Object, liveDescriptorCount int) {
	b.checkCurrent(host)
	check.That(host.Kind() == heap.KindDescriptorArray, "%s is not a descriptor array", host)
	check.That(b.activated, "write on inactive barrier of thread %d", b.thread)
	b.stats.writes.Add(1)

	if b.scope == collector.Minor && !host.InYoungGeneration() {
		return
	}

	if !b.colors.IsBlack(host) {
		b.colors.WhiteToGrey(host)
		b.colors.GreyToBlack(host)
		b.markRange(host, 0, heap.DescriptorHeaderSlots)
	}

	// The epoch has too few bits to tell many minor cycles apart, so minor
	// cycles always mark the whole array.
	oldMarked := 0
	if b.scope == collector.Major {
		oldMarked = host.UpdateNumberOfMarkedDescriptors(b.collector.Epoch(), liveDescriptorCount)
	}
	if oldMarked < liveDescriptorCount {
		// Strong marking: trimming unused descriptors at the end of the
		// cycle does not rely on these slots being weak.
		b.markRange(host, heap.DescriptorSlot(oldMarked), heap.DescriptorSlot(liveDescriptorCount))
	}
}

// markRange marks the values of host's slots [from, to)
func (b *Barrier) markRange(host *heap.Object, from, to int) {
	for i := from; i < to; i++ {
		value := host.Load(i)
		if value == nil {
			continue
		}
		b.markValue(host, value)
		if b.compacting {
			check.That(b.scope == collector.Major, "compacting minor cycle")
			if b.recorderFor(host).RecordSlot(host, host.Slot(i), value) {
				b.stats.slotsRecorded.Add(1)
			}
		}
	}
}
