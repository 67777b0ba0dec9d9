// ABOUTME: Core data types for the managed heap model
// ABOUTME: Defines ObjID, object kinds, spaces and roots

package heap

import (
	"errors"
	"fmt"
)

// TaggedSize is the size in bytes of one pointer slot.
const TaggedSize = 8

// ObjID is a unique identifier for a heap object
type ObjID uint64

// Kind distinguishes objects whose slots need special barrier handling
type Kind uint8

const (
	KindPlain Kind = iota
	KindCode
	KindDescriptorArray
	KindArrayBuffer
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindCode:
		return "code"
	case KindDescriptorArray:
		return "descriptor-array"
	case KindArrayBuffer:
		return "array-buffer"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Space is the allocation space a region belongs to
type Space uint8

const (
	NewSpace Space = iota
	NewLargeObjectSpace
	OldSpace
	CodeSpace
	LargeObjectSpace
	CodeLargeObjectSpace
	SharedSpace
	SharedLargeObjectSpace
	ReadOnlySpace
)

// AllSpaces lists every space in allocation order.
var AllSpaces = []Space{
	NewSpace, NewLargeObjectSpace, OldSpace, CodeSpace, LargeObjectSpace,
	CodeLargeObjectSpace, SharedSpace, SharedLargeObjectSpace, ReadOnlySpace,
}

var spaceNames = map[Space]string{
	NewSpace:               "new",
	NewLargeObjectSpace:    "new_lo",
	OldSpace:               "old",
	CodeSpace:              "code",
	LargeObjectSpace:       "lo",
	CodeLargeObjectSpace:   "code_lo",
	SharedSpace:            "shared",
	SharedLargeObjectSpace: "shared_lo",
	ReadOnlySpace:          "read_only",
}

// ErrUnknownSpace is returned when a space name cannot be parsed
var ErrUnknownSpace = errors.New("unknown space")

func (s Space) String() string {
	if name, ok := spaceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("space(%d)", uint8(s))
}

// ParseSpace maps a space name as printed by String back to a Space
func ParseSpace(name string) (Space, error) {
	for s, n := range spaceNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSpace, name)
}

// IsYoung reports whether the space belongs to the young generation
func (s Space) IsYoung() bool {
	return s == NewSpace || s == NewLargeObjectSpace
}

// IsSharedWritable reports whether objects in the space are visible to
// every isolate attached to the shared heap and may be mutated.
func (s Space) IsSharedWritable() bool {
	return s == SharedSpace || s == SharedLargeObjectSpace
}

// IsCode reports whether the space holds generated code
func (s Space) IsCode() bool {
	return s == CodeSpace || s == CodeLargeObjectSpace
}

// IsLarge reports whether regions of the space hold a single large object
func (s Space) IsLarge() bool {
	switch s {
	case NewLargeObjectSpace, LargeObjectSpace, CodeLargeObjectSpace, SharedLargeObjectSpace:
		return true
	}
	return false
}

// Roots represents the set of GC root objects
type Roots struct {
	IDs []ObjID // Object IDs that are roots
}
