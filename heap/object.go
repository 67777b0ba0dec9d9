// ABOUTME: Heap objects with atomic pointer slots and mark bits
// ABOUTME: Slots are addressed by index and located by region byte offset

package heap

import (
	"fmt"
	"sync/atomic"
)

// Object represents a single heap object. The slot array is fixed at
// allocation; slot contents may be read and written concurrently.
type Object struct {
	id     ObjID
	kind   Kind
	region *Region
	offset uint32

	markBits atomic.Uint32
	slots    []atomic.Pointer[Object]

	// KindCode
	relocs []*RelocInfo

	// KindDescriptorArray
	descriptors atomic.Uint32
	gcState     atomic.Uint32

	// KindArrayBuffer
	ext atomic.Pointer[Extension]
}

// ID returns the object's identifier
func (o *Object) ID() ObjID { return o.id }

// Kind returns the object's kind
func (o *Object) Kind() Kind { return o.kind }

// Region returns the region the object lives in
func (o *Object) Region() *Region { return o.region }

// Offset returns the object's byte offset within its region
func (o *Object) Offset() uint32 { return o.offset }

// NumSlots returns the number of pointer slots
func (o *Object) NumSlots() int { return len(o.slots) }

// MarkBits exposes the word the color state provider transitions atomically
func (o *Object) MarkBits() *atomic.Uint32 { return &o.markBits }

// Load reads slot i
func (o *Object) Load(i int) *Object { return o.slots[i].Load() }

// Store writes slot i. It does not run any barrier.
func (o *Object) Store(i int, v *Object) { o.slots[i].Store(v) }

// Slot returns the location of slot i
func (o *Object) Slot(i int) Slot {
	if i < 0 || i >= len(o.slots) {
		panic(fmt.Sprintf("slot %d out of range for %s with %d slots", i, o, len(o.slots)))
	}
	return Slot{host: o, index: i}
}

// InYoungGeneration reports whether the object is in the young generation
func (o *Object) InYoungGeneration() bool { return o.region.InYoungGeneration() }

// InSharedWritableHeap reports whether the object lives in the shared writable heap
func (o *Object) InSharedWritableHeap() bool { return o.region.InSharedWritableHeap() }

// InSharedHeap reports whether the object is visible to every isolate,
// either in the shared writable heap or in read-only space.
func (o *Object) InSharedHeap() bool {
	return o.region.InSharedWritableHeap() || o.region.space == ReadOnlySpace
}

// Size returns the object's size in bytes
func (o *Object) Size() uint32 {
	var body uint32
	for _, r := range o.relocs {
		if end := r.pcOffset + TaggedSize; end > body {
			body = end
		}
	}
	return o.headerSize() + body
}

func (o *Object) headerSize() uint32 {
	return uint32(TaggedSize * (1 + len(o.slots)))
}

func (o *Object) String() string {
	return fmt.Sprintf("%s#%d@%s+%d", o.kind, o.id, o.region, o.offset)
}

// Slot is the location of a pointer field inside a host object. The zero
// Slot denotes an absent location, e.g. a write with no identifiable field.
type Slot struct {
	host  *Object
	index int
}

// IsEmpty reports whether the slot denotes no location
func (s Slot) IsEmpty() bool { return s.host == nil }

// Host returns the object containing the slot
func (s Slot) Host() *Object { return s.host }

// Index returns the slot's index in its host
func (s Slot) Index() int { return s.index }

// Offset returns the slot's byte offset within the host's region
func (s Slot) Offset() uint32 {
	return s.host.offset + uint32(TaggedSize*(1+s.index))
}

// Load reads the slot
func (s Slot) Load() *Object { return s.host.Load(s.index) }
