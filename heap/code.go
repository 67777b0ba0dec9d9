// ABOUTME: Generated code objects and their relocation entries
// ABOUTME: Relocation entries are pointers embedded in machine code

package heap

import (
	"fmt"
	"sync/atomic"
)

// RelocMode describes what a relocation entry points at
type RelocMode uint8

const (
	RelocFullEmbeddedObject RelocMode = iota
	RelocCompressedEmbeddedObject
	RelocCodeTarget
	RelocExternalReference
	RelocOffHeapTarget
)

func (m RelocMode) String() string {
	switch m {
	case RelocFullEmbeddedObject:
		return "full-embedded-object"
	case RelocCompressedEmbeddedObject:
		return "compressed-embedded-object"
	case RelocCodeTarget:
		return "code-target"
	case RelocExternalReference:
		return "external-reference"
	case RelocOffHeapTarget:
		return "off-heap-target"
	}
	return fmt.Sprintf("reloc(%d)", uint8(m))
}

// IsEmbeddedObject reports whether the entry embeds a heap object pointer
func (m RelocMode) IsEmbeddedObject() bool {
	return m == RelocFullEmbeddedObject || m == RelocCompressedEmbeddedObject
}

// IsCodeTarget reports whether the entry is a call or jump to other code
func (m RelocMode) IsCodeTarget() bool { return m == RelocCodeTarget }

// RelocSpec describes a relocation entry at allocation time
type RelocSpec struct {
	Mode           RelocMode
	PCOffset       uint32
	InConstantPool bool
}

// RelocInfo is one relocation entry of a code object
type RelocInfo struct {
	host           *Object
	mode           RelocMode
	pcOffset       uint32
	inConstantPool bool
	target         atomic.Pointer[Object]
}

// Host returns the code object containing the entry
func (r *RelocInfo) Host() *Object { return r.host }

// Mode returns the entry's relocation mode
func (r *RelocInfo) Mode() RelocMode { return r.mode }

// PCOffset returns the entry's offset from the start of the instructions
func (r *RelocInfo) PCOffset() uint32 { return r.pcOffset }

// InConstantPool reports whether the pointer is stored in the constant pool
func (r *RelocInfo) InConstantPool() bool { return r.inConstantPool }

// Target returns the current target
func (r *RelocInfo) Target() *Object { return r.target.Load() }

// SetTarget patches the target. It does not run any barrier.
func (r *RelocInfo) SetTarget(v *Object) { r.target.Store(v) }

// Offset returns the entry's byte offset within the host's region
func (r *RelocInfo) Offset() uint32 {
	return r.host.offset + r.host.headerSize() + r.pcOffset
}

// NumRelocs returns the number of relocation entries of a code object
func (o *Object) NumRelocs() int { return len(o.relocs) }

// Reloc returns relocation entry i of a code object
func (o *Object) Reloc(i int) *RelocInfo { return o.relocs[i] }
