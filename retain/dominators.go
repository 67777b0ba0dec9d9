// ABOUTME: Lengauer-Tarjan dominators over a heap's slot and relocation edges
// ABOUTME: Retained sizes are summed bottom-up over the dominator tree

package retain

import "github.com/prateek/markbarrier/heap"

// superRoot is the virtual node pointing at every root. Object IDs start
// at 1.
const superRoot heap.ObjID = 0

// Dominators computes the immediate dominator of every object reachable
// from roots. Edges leaving h are ignored. Roots are dominated by the
// super-root (ID 0), which is not part of the result.
func Dominators(h *heap.Heap, roots heap.Roots) map[heap.ObjID]heap.ObjID {
	succ := make(map[heap.ObjID][]heap.ObjID)
	succ[superRoot] = roots.IDs
	h.ForEachObject(func(obj *heap.Object) {
		forEachEdge(h, obj, func(target *heap.Object, _ Ref) {
			succ[obj.ID()] = append(succ[obj.ID()], target.ID())
		})
	})
	pred := make(map[heap.ObjID][]heap.ObjID)
	for v, ws := range succ {
		for _, w := range ws {
			pred[w] = append(pred[w], v)
		}
	}

	var (
		vertex   []heap.ObjID              // DFS number -> vertex
		dfnum    = map[heap.ObjID]int{}    // vertex -> DFS number
		parent   = map[heap.ObjID]int{}    // DFS number of the spanning tree parent
		semi     = map[heap.ObjID]int{}    // DFS number of the semidominator
		ancestor = map[heap.ObjID]int{}    // link-eval forest, -1 for none
		best     = map[heap.ObjID]heap.ObjID{}
		samedom  = map[heap.ObjID]heap.ObjID{}
		idom     = map[heap.ObjID]heap.ObjID{}
		bucket   = map[int][]heap.ObjID{}
	)

	// Iterative DFS; heap chains are deeper than the goroutine stack likes.
	type frame struct {
		v heap.ObjID
		p int
	}
	stack := []frame{{superRoot, -1}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := dfnum[f.v]; seen {
			continue
		}
		n := len(vertex)
		dfnum[f.v] = n
		vertex = append(vertex, f.v)
		parent[f.v] = f.p
		semi[f.v] = n
		ancestor[f.v] = -1
		best[f.v] = f.v
		samedom[f.v] = f.v
		ws := succ[f.v]
		for i := len(ws) - 1; i >= 0; i-- {
			if _, seen := dfnum[ws[i]]; !seen {
				stack = append(stack, frame{ws[i], n})
			}
		}
	}

	var compress func(v heap.ObjID)
	compress = func(v heap.ObjID) {
		a := vertex[ancestor[v]]
		if ancestor[a] == -1 {
			return
		}
		compress(a)
		if semi[best[a]] < semi[best[v]] {
			best[v] = best[a]
		}
		ancestor[v] = ancestor[a]
	}
	eval := func(v heap.ObjID) heap.ObjID {
		if ancestor[v] == -1 {
			return v
		}
		compress(v)
		return best[v]
	}

	for i := len(vertex) - 1; i > 0; i-- {
		w := vertex[i]
		for _, v := range pred[w] {
			if _, reachable := dfnum[v]; !reachable {
				continue
			}
			u := v
			if dfnum[v] > dfnum[w] {
				u = eval(v)
			}
			if semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}
		bucket[semi[w]] = append(bucket[semi[w]], w)
		p := parent[w]
		ancestor[w] = p

		for _, v := range bucket[p] {
			u := eval(v)
			if semi[u] == semi[v] {
				idom[v] = vertex[p]
			} else {
				samedom[v] = u
			}
		}
		delete(bucket, p)
	}
	for i := 1; i < len(vertex); i++ {
		w := vertex[i]
		if samedom[w] != w {
			idom[w] = idom[samedom[w]]
		}
	}

	delete(idom, superRoot)
	return idom
}

// RetainedSizes returns, for each of ids reachable from roots, the total
// size of the objects it dominates including itself: the bytes that become
// garbage once nothing else keeps it alive.
func RetainedSizes(h *heap.Heap, roots heap.Roots, ids []heap.ObjID) map[heap.ObjID]uint64 {
	result := make(map[heap.ObjID]uint64, len(ids))
	if len(ids) == 0 {
		return result
	}
	idom := Dominators(h, roots)
	tree := make(map[heap.ObjID][]heap.ObjID)
	for node, dom := range idom {
		tree[dom] = append(tree[dom], node)
	}

	computed := make(map[heap.ObjID]uint64)
	var retained func(heap.ObjID) uint64
	retained = func(id heap.ObjID) uint64 {
		if size, ok := computed[id]; ok {
			return size
		}
		var size uint64
		if obj := h.GetObject(id); obj != nil {
			size = uint64(obj.Size())
		}
		for _, child := range tree[id] {
			size += retained(child)
		}
		computed[id] = size
		return size
	}

	for _, id := range ids {
		if _, reachable := idom[id]; reachable {
			result[id] = retained(id)
		}
	}
	return result
}

// DominatorPath returns id followed by its chain of immediate dominators up
// to a root.
func DominatorPath(idom map[heap.ObjID]heap.ObjID, id heap.ObjID) []heap.ObjID {
	path := []heap.ObjID{id}
	for {
		dom, ok := idom[id]
		if !ok || dom == superRoot {
			return path
		}
		path = append(path, dom)
		id = dom
	}
}

// forEachEdge calls fn for every reference obj holds into h, through its
// slots and then its relocation entries
func forEachEdge(h *heap.Heap, obj *heap.Object, fn func(*heap.Object, Ref)) {
	for i := 0; i < obj.NumSlots(); i++ {
		if t := obj.Load(i); t != nil && t.Region().Heap() == h {
			fn(t, Ref{From: obj.ID(), Index: i})
		}
	}
	for i := 0; i < obj.NumRelocs(); i++ {
		if t := obj.Reloc(i).Target(); t != nil && t.Region().Heap() == h {
			fn(t, Ref{From: obj.ID(), Index: i, Reloc: true})
		}
	}
}
