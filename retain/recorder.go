// ABOUTME: Records why objects were retained during a major cycle
// ABOUTME: The marking barrier reports objects it greys as write-barrier roots

// Package retain tracks retaining roots and computes retaining paths, so
// a heap snapshot can explain why an object survived a cycle.
package retain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prateek/markbarrier/heap"
)

// Root is the reason an object was treated as a root
type Root uint8

const (
	RootStrong Root = iota
	RootWriteBarrier
)

func (r Root) String() string {
	switch r {
	case RootStrong:
		return "strong"
	case RootWriteBarrier:
		return "write-barrier"
	}
	return fmt.Sprintf("root(%d)", uint8(r))
}

// Recorder collects retaining roots. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	roots map[heap.ObjID]Root
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{roots: make(map[heap.ObjID]Root)}
}

// AddRetainingRoot records obj as retained by root. The first reason wins.
func (r *Recorder) AddRetainingRoot(root Root, obj *heap.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roots[obj.ID()]; !ok {
		r.roots[obj.ID()] = root
	}
}

// RootOf returns the recorded reason for id
func (r *Recorder) RootOf(id heap.ObjID) (Root, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.roots[id]
	return root, ok
}

// Roots returns the recorded object IDs in ascending order
func (r *Recorder) Roots() heap.Roots {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]heap.ObjID, 0, len(r.roots))
	for id := range r.roots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return heap.Roots{IDs: ids}
}

// Reset forgets every recorded root, at the start of a major cycle
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.roots)
}
