// ABOUTME: Slot eligibility predicates and relocation entry decoding
// ABOUTME: Records plain and relocation slots straight into the global Store

package remset

import (
	"github.com/prateek/markbarrier/heap"
)

// ShouldRecordSlot reports whether a pointer from host to value must be
// remembered: value will move and host will not.
func ShouldRecordSlot(host, value *heap.Object) bool {
	return value.Region().IsEvacuationCandidate() && !host.Region().IsEvacuationCandidate()
}

// ShouldRecordRelocSlot reports whether a relocation entry needs tracking.
// Entries that address fixed, non-relocatable targets never do.
func ShouldRecordRelocSlot(rinfo *heap.RelocInfo, target *heap.Object) bool {
	mode := rinfo.Mode()
	if !mode.IsEmbeddedObject() && !mode.IsCodeTarget() {
		return false
	}
	return ShouldRecordSlot(rinfo.Host(), target)
}

// RelocSlotInfo is a relocation entry decoded into a typed slot
type RelocSlotInfo struct {
	Region *heap.Region
	Type   SlotType
	Offset uint32
}

// ProcessRelocInfo decodes the region, slot type and offset of rinfo
func ProcessRelocInfo(rinfo *heap.RelocInfo) RelocSlotInfo {
	var t SlotType
	switch rinfo.Mode() {
	case heap.RelocCodeTarget:
		t = SlotCodeEntry
	case heap.RelocFullEmbeddedObject:
		t = SlotFullEmbeddedObject
	case heap.RelocCompressedEmbeddedObject:
		t = SlotCompressedEmbeddedObject
	default:
		panic("unexpected relocation mode " + rinfo.Mode().String())
	}
	if rinfo.InConstantPool() {
		switch t {
		case SlotCodeEntry:
			t = SlotConstPoolCodeEntry
		case SlotFullEmbeddedObject:
			t = SlotConstPoolFullEmbeddedObject
		case SlotCompressedEmbeddedObject:
			t = SlotConstPoolCompressedEmbeddedObject
		}
	}
	return RelocSlotInfo{
		Region: rinfo.Host().Region(),
		Type:   t,
		Offset: rinfo.Offset(),
	}
}

// Recorder writes eligible slots directly into a Store
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder for store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Store returns the store slots are recorded into
func (r *Recorder) Store() *Store { return r.store }

// RecordSlot records slot of host if it points at an object that will
// move. It reports whether the slot was newly recorded.
func (r *Recorder) RecordSlot(host *heap.Object, slot heap.Slot, value *heap.Object) bool {
	if !ShouldRecordSlot(host, value) {
		return false
	}
	return r.store.Insert(host.Region(), SlotTagged, slot.Offset())
}

// RecordSharedSlot records slot of a local host pointing into the shared
// heap, whether or not the value moves.
func (r *Recorder) RecordSharedSlot(host *heap.Object, slot heap.Slot) bool {
	return r.store.Insert(host.Region(), SlotTagged, slot.Offset())
}

// RecordSharedRelocSlot records a relocation entry of a local code object
// pointing into the shared heap. Only relocatable modes are kept.
func (r *Recorder) RecordSharedRelocSlot(rinfo *heap.RelocInfo) bool {
	mode := rinfo.Mode()
	if !mode.IsEmbeddedObject() && !mode.IsCodeTarget() {
		return false
	}
	info := ProcessRelocInfo(rinfo)
	return r.store.Insert(info.Region, info.Type, info.Offset)
}

// RecordRelocSlot records rinfo if it needs tracking. It reports whether
// the entry was newly recorded.
func (r *Recorder) RecordRelocSlot(rinfo *heap.RelocInfo, target *heap.Object) bool {
	if !ShouldRecordRelocSlot(rinfo, target) {
		return false
	}
	info := ProcessRelocInfo(rinfo)
	return r.store.Insert(info.Region, info.Type, info.Offset)
}
