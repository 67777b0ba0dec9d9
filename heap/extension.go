// ABOUTME: Out-of-heap backing store metadata referenced by array buffers
// ABOUTME: Carries separate young and full mark bits

package heap

import "sync/atomic"

// Extension is backing-store metadata that lives outside the heap and is
// kept alive by an array buffer object.
type Extension struct {
	ID          uint64
	marked      atomic.Bool
	youngMarked atomic.Bool
}

// Mark marks the extension live for a major cycle
func (e *Extension) Mark() { e.marked.Store(true) }

// YoungMark marks the extension live for a minor cycle
func (e *Extension) YoungMark() { e.youngMarked.Store(true) }

// IsMarked reports the major mark
func (e *Extension) IsMarked() bool { return e.marked.Load() }

// IsYoungMarked reports the minor mark
func (e *Extension) IsYoungMarked() bool { return e.youngMarked.Load() }

// Clear resets both marks
func (e *Extension) Clear() {
	e.marked.Store(false)
	e.youngMarked.Store(false)
}

// Extension returns the array buffer's backing store metadata
func (o *Object) Extension() *Extension { return o.ext.Load() }

// SetExtension attaches ext to an array buffer. It does not run any barrier.
func (o *Object) SetExtension(ext *Extension) { o.ext.Store(ext) }
