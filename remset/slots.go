// ABOUTME: Typed slot kinds and the ordered per-region typed slot set
// ABOUTME: Inserts are idempotent; iteration is ordered by offset then kind

// Package remset records the locations of pointers into regions that a
// compacting collector evacuates, so they can be updated after objects move.
package remset

import (
	"fmt"
	"sort"
)

// SlotType says how the pointer at a recorded location is encoded
type SlotType uint8

const (
	// SlotTagged is a plain pointer field of a heap object.
	SlotTagged SlotType = iota
	SlotFullEmbeddedObject
	SlotCompressedEmbeddedObject
	SlotCodeEntry
	SlotConstPoolFullEmbeddedObject
	SlotConstPoolCompressedEmbeddedObject
	SlotConstPoolCodeEntry
)

func (t SlotType) String() string {
	switch t {
	case SlotTagged:
		return "tagged"
	case SlotFullEmbeddedObject:
		return "full-embedded-object"
	case SlotCompressedEmbeddedObject:
		return "compressed-embedded-object"
	case SlotCodeEntry:
		return "code-entry"
	case SlotConstPoolFullEmbeddedObject:
		return "const-pool-full-embedded-object"
	case SlotConstPoolCompressedEmbeddedObject:
		return "const-pool-compressed-embedded-object"
	case SlotConstPoolCodeEntry:
		return "const-pool-code-entry"
	}
	return fmt.Sprintf("slot-type(%d)", uint8(t))
}

// TypedSlot is a recorded pointer location within a region
type TypedSlot struct {
	Type   SlotType
	Offset uint32
}

func (s TypedSlot) less(o TypedSlot) bool {
	if s.Offset != o.Offset {
		return s.Offset < o.Offset
	}
	return s.Type < o.Type
}

// TypedSlots is an ordered set of typed slots. It is not safe for
// concurrent use.
type TypedSlots struct {
	slots []TypedSlot
}

// NewTypedSlots creates an empty set
func NewTypedSlots() *TypedSlots {
	return &TypedSlots{}
}

// Insert adds (t, offset) and reports whether it was not already present
func (ts *TypedSlots) Insert(t SlotType, offset uint32) bool {
	s := TypedSlot{Type: t, Offset: offset}
	i := sort.Search(len(ts.slots), func(i int) bool { return !ts.slots[i].less(s) })
	if i < len(ts.slots) && ts.slots[i] == s {
		return false
	}
	ts.slots = append(ts.slots, TypedSlot{})
	copy(ts.slots[i+1:], ts.slots[i:])
	ts.slots[i] = s
	return true
}

// Contains reports whether (t, offset) is in the set
func (ts *TypedSlots) Contains(t SlotType, offset uint32) bool {
	s := TypedSlot{Type: t, Offset: offset}
	i := sort.Search(len(ts.slots), func(i int) bool { return !ts.slots[i].less(s) })
	return i < len(ts.slots) && ts.slots[i] == s
}

// Len returns the number of slots
func (ts *TypedSlots) Len() int { return len(ts.slots) }

// IsEmpty reports whether the set holds no slot
func (ts *TypedSlots) IsEmpty() bool { return len(ts.slots) == 0 }

// Slots returns a copy of the slots in order
func (ts *TypedSlots) Slots() []TypedSlot {
	return append([]TypedSlot(nil), ts.slots...)
}

// Merge inserts every slot of other and returns how many were new
func (ts *TypedSlots) Merge(other *TypedSlots) int {
	added := 0
	for _, s := range other.slots {
		if ts.Insert(s.Type, s.Offset) {
			added++
		}
	}
	return added
}
