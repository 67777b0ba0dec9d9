// ABOUTME: Builds reverse edges for heap traversal
// ABOUTME: Maps objects to the slots and relocation entries referring to them

package retain

import (
	"fmt"

	"github.com/prateek/markbarrier/heap"
)

// Ref is one reference held by an object: a slot, or a relocation entry
// of a code object
type Ref struct {
	From  heap.ObjID
	Index int
	Reloc bool
}

func (r Ref) String() string {
	if r.Reloc {
		return fmt.Sprintf("%d.reloc[%d]", r.From, r.Index)
	}
	return fmt.Sprintf("%d.slot[%d]", r.From, r.Index)
}

// ReverseEdges maps each object to the references pointing at it
type ReverseEdges map[heap.ObjID][]Ref

// BuildReverseEdges collects the references between objects of h. Pointers
// into other heaps are left out.
func BuildReverseEdges(h *heap.Heap) ReverseEdges {
	reverse := make(ReverseEdges)
	h.ForEachObject(func(obj *heap.Object) {
		forEachEdge(h, obj, func(target *heap.Object, ref Ref) {
			reverse[target.ID()] = append(reverse[target.ID()], ref)
		})
	})
	return reverse
}
