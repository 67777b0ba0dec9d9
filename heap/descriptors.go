// ABOUTME: Descriptor arrays, append-only property tables shared between maps
// ABOUTME: Tracks how many descriptors were marked in the current major cycle

package heap

import "fmt"

const (
	// DescriptorHeaderSlots is the number of pointer slots before the
	// first descriptor.
	DescriptorHeaderSlots = 2
	// DescriptorEntrySize is the number of slots per descriptor: key,
	// details and value.
	DescriptorEntrySize = 3

	epochBits  = 2
	markedBits = 14
	epochMask  = 1<<epochBits - 1
	markedMask = 1<<markedBits - 1

	// MaxDescriptors is the largest descriptor count the marked state can hold.
	MaxDescriptors = markedMask
)

// DescriptorSlot returns the index of the first slot of descriptor i
func DescriptorSlot(i int) int {
	return DescriptorHeaderSlots + i*DescriptorEntrySize
}

// DescriptorCapacity returns how many descriptors fit in the array
func (o *Object) DescriptorCapacity() int {
	return (len(o.slots) - DescriptorHeaderSlots) / DescriptorEntrySize
}

// NumberOfDescriptors returns the number of descriptors appended so far
func (o *Object) NumberOfDescriptors() int {
	return int(o.descriptors.Load())
}

// AppendDescriptor stores a descriptor at the end of the array and
// returns the new descriptor count. It does not run any barrier; the
// caller is the array's single writer.
func (o *Object) AppendDescriptor(key, details, value *Object) int {
	n := int(o.descriptors.Load())
	if n >= o.DescriptorCapacity() {
		panic(fmt.Sprintf("descriptor array %s full at %d", o, n))
	}
	base := DescriptorSlot(n)
	o.Store(base, key)
	o.Store(base+1, details)
	o.Store(base+2, value)
	o.descriptors.Store(uint32(n + 1))
	return n + 1
}

// NumberOfMarkedDescriptors returns the number of descriptors already
// marked in the cycle identified by epoch. A state left over from another
// epoch counts as zero.
func (o *Object) NumberOfMarkedDescriptors(epoch uint32) int {
	return decodeMarked(epoch, o.gcState.Load())
}

// UpdateNumberOfMarkedDescriptors raises the marked count for epoch to n
// and returns the count before the update. The count never decreases
// within an epoch.
func (o *Object) UpdateNumberOfMarkedDescriptors(epoch uint32, n int) int {
	if n > MaxDescriptors {
		panic(fmt.Sprintf("descriptor count %d exceeds %d", n, MaxDescriptors))
	}
	for {
		raw := o.gcState.Load()
		old := decodeMarked(epoch, raw)
		if old >= n {
			return old
		}
		next := (epoch&epochMask)<<markedBits | uint32(n)
		if o.gcState.CompareAndSwap(raw, next) {
			return old
		}
	}
}

func decodeMarked(epoch, raw uint32) int {
	if raw>>markedBits != epoch&epochMask {
		return 0
	}
	return int(raw & markedMask)
}
