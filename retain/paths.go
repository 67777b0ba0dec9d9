// ABOUTME: BFS algorithm for finding retaining paths from objects to roots
// ABOUTME: Paths name the slot or relocation entry holding every hop

package retain

import (
	"fmt"
	"strings"

	"github.com/prateek/markbarrier/heap"
)

// Path is a chain of references from an object to a root
type Path struct {
	IDs []heap.ObjID // from the object to the root
	// Refs[i] is the reference IDs[i+1] holds to IDs[i]
	Refs []Ref
}

// String renders the path root first, e.g. "3.slot[0] -> 5.reloc[1] -> 9"
func (p Path) String() string {
	var b strings.Builder
	for i := len(p.Refs) - 1; i >= 0; i-- {
		b.WriteString(p.Refs[i].String())
		b.WriteString(" -> ")
	}
	if len(p.IDs) > 0 {
		fmt.Fprint(&b, p.IDs[0])
	}
	return b.String()
}

// hop is a BFS node; paths share their tails through prev
type hop struct {
	id   heap.ObjID
	ref  Ref
	prev *hop
}

func (h *hop) visits(id heap.ObjID) bool {
	for ; h != nil; h = h.prev {
		if h.id == id {
			return true
		}
	}
	return false
}

func (h *hop) path() Path {
	var p Path
	for ; h != nil; h = h.prev {
		p.IDs = append(p.IDs, h.id)
		if h.prev != nil {
			p.Refs = append(p.Refs, h.ref)
		}
	}
	// Collected root first.
	for i, j := 0, len(p.IDs)-1; i < j; i, j = i+1, j-1 {
		p.IDs[i], p.IDs[j] = p.IDs[j], p.IDs[i]
	}
	for i, j := 0, len(p.Refs)-1; i < j; i, j = i+1, j-1 {
		p.Refs[i], p.Refs[j] = p.Refs[j], p.Refs[i]
	}
	return p
}

// PathsToRoots finds up to maxPaths shortest paths from an object to any
// of roots, following slots and relocation entries within h
func PathsToRoots(h *heap.Heap, roots heap.Roots, from heap.ObjID, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}

	rootSet := make(map[heap.ObjID]bool, len(roots.IDs))
	for _, id := range roots.IDs {
		rootSet[id] = true
	}
	if rootSet[from] {
		return []Path{{IDs: []heap.ObjID{from}}}
	}

	reverse := BuildReverseEdges(h)
	var result []Path
	queue := []*hop{{id: from}}
	for len(queue) > 0 && len(result) < maxPaths {
		cur := queue[0]
		queue = queue[1:]

		for _, ref := range reverse[cur.id] {
			if cur.visits(ref.From) {
				continue
			}
			next := &hop{id: ref.From, ref: ref, prev: cur}
			if !rootSet[ref.From] {
				queue = append(queue, next)
				continue
			}
			result = append(result, next.path())
			if len(result) >= maxPaths {
				break
			}
		}
	}
	return result
}
