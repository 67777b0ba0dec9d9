// ABOUTME: Marking worklist with thread-local buffers and a global segment list
// ABOUTME: Local entries become visible to other threads only on Publish

// Package worklist holds grey objects waiting to be scanned. Each thread
// pushes into its own Local view; full segments and explicit publishes move
// entries to the shared Worklist where other threads can steal them.
package worklist

import (
	"sync"
	"sync/atomic"

	"github.com/prateek/markbarrier/heap"
)

// SegmentSize is the capacity of a local push segment.
const SegmentSize = 64

// Worklist is the global part of a worklist, safe for concurrent use.
type Worklist struct {
	mu       sync.Mutex
	segments [][]*heap.Object
	size     atomic.Int64
}

// New creates an empty worklist
func New() *Worklist {
	return &Worklist{}
}

// IsEmpty reports whether no segment is published
func (w *Worklist) IsEmpty() bool {
	return w.size.Load() == 0
}

// Len returns the number of published entries
func (w *Worklist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, s := range w.segments {
		n += len(s)
	}
	return n
}

// Clear drops every published entry
func (w *Worklist) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.segments = nil
	w.size.Store(0)
}

func (w *Worklist) push(seg []*heap.Object) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.segments = append(w.segments, seg)
	w.size.Add(1)
}

func (w *Worklist) pop() ([]*heap.Object, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.segments)
	if n == 0 {
		return nil, false
	}
	seg := w.segments[n-1]
	w.segments[n-1] = nil
	w.segments = w.segments[:n-1]
	w.size.Add(-1)
	return seg, true
}

// Local is one thread's view of a Worklist. It is not safe for concurrent
// use; its owner serializes access.
type Local struct {
	global *Worklist
	push   []*heap.Object
	pop    []*heap.Object
}

// NewLocal creates a local view of w
func NewLocal(w *Worklist) *Local {
	return &Local{global: w}
}

// Global returns the worklist this view publishes to
func (l *Local) Global() *Worklist { return l.global }

// Push adds obj to the local buffer, publishing the buffer once it is full
func (l *Local) Push(obj *heap.Object) {
	if len(l.push) == SegmentSize {
		l.global.push(l.push)
		l.push = nil
	}
	if l.push == nil {
		l.push = make([]*heap.Object, 0, SegmentSize)
	}
	l.push = append(l.push, obj)
}

// Pop takes an entry from the local buffers, stealing a published segment
// when they are empty.
func (l *Local) Pop() (*heap.Object, bool) {
	if len(l.pop) == 0 {
		if len(l.push) > 0 {
			l.pop, l.push = l.push, l.pop[:0]
		} else if seg, ok := l.global.pop(); ok {
			l.pop = seg
		} else {
			return nil, false
		}
	}
	n := len(l.pop) - 1
	obj := l.pop[n]
	l.pop[n] = nil
	l.pop = l.pop[:n]
	return obj, true
}

// IsLocalEmpty reports whether the local buffers hold nothing
func (l *Local) IsLocalEmpty() bool {
	return len(l.push) == 0 && len(l.pop) == 0
}

// IsGlobalEmpty reports whether the global worklist holds nothing
func (l *Local) IsGlobalEmpty() bool {
	return l.global.IsEmpty()
}

// IsLocalAndGlobalEmpty reports whether neither this view nor the global
// worklist holds anything.
func (l *Local) IsLocalAndGlobalEmpty() bool {
	return l.IsLocalEmpty() && l.IsGlobalEmpty()
}

// Publish moves every locally buffered entry to the global worklist
func (l *Local) Publish() {
	if len(l.push) > 0 {
		l.global.push(l.push)
		l.push = nil
	}
	if len(l.pop) > 0 {
		l.global.push(l.pop)
		l.pop = nil
	}
}
