// ABOUTME: Heap owning regions, objects and roots of one isolate
// ABOUTME: Provides allocation and iteration used by collectors and fixtures

package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var nextObjID atomic.Uint64

// Heap is the set of regions owned by one isolate. The shared-space
// isolate's heap additionally owns the shared regions.
type Heap struct {
	mu      sync.RWMutex
	name    string
	regions map[Space][]*Region
	objects map[ObjID]*Object
	roots   Roots
	nextID  int
}

// NewHeap creates an empty heap
func NewHeap(name string) *Heap {
	return &Heap{
		name:    name,
		regions: make(map[Space][]*Region),
		objects: make(map[ObjID]*Object),
	}
}

// Name returns the heap's name
func (h *Heap) Name() string { return h.name }

// AddRegion adds a fresh region to space
func (h *Heap) AddRegion(space Space) *Region {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	r := newRegion(h, h.nextID, space)
	h.regions[space] = append(h.regions[space], r)
	return r
}

// Region returns the first region of space, adding one if there is none
func (h *Heap) Region(space Space) *Region {
	h.mu.RLock()
	rs := h.regions[space]
	h.mu.RUnlock()
	if len(rs) > 0 {
		return rs[0]
	}
	return h.AddRegion(space)
}

// Regions returns the regions of space
func (h *Heap) Regions(space Space) []*Region {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Region(nil), h.regions[space]...)
}

// HasSpace reports whether the heap has at least one region in space
func (h *Heap) HasSpace(space Space) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.regions[space]) > 0
}

// ForEachRegion iterates over all regions in space order
func (h *Heap) ForEachRegion(fn func(*Region)) {
	for _, space := range AllSpaces {
		for _, r := range h.Regions(space) {
			fn(r)
		}
	}
}

// Allocate allocates a plain object with n pointer slots in r
func (h *Heap) Allocate(r *Region, n int) *Object {
	return h.allocate(r, KindPlain, n, nil)
}

// AllocateCode allocates a code object with n pointer slots and the given
// relocation entries. r must be in a code space.
func (h *Heap) AllocateCode(r *Region, n int, relocs []RelocSpec) *Object {
	if !r.space.IsCode() {
		panic(fmt.Sprintf("code allocated in %s", r))
	}
	return h.allocate(r, KindCode, n, relocs)
}

// AllocateDescriptorArray allocates a descriptor array with room for
// capacity descriptors.
func (h *Heap) AllocateDescriptorArray(r *Region, capacity int) *Object {
	return h.allocate(r, KindDescriptorArray, DescriptorSlot(capacity), nil)
}

// AllocateArrayBuffer allocates an array buffer object with no extension
func (h *Heap) AllocateArrayBuffer(r *Region) *Object {
	return h.allocate(r, KindArrayBuffer, 0, nil)
}

func (h *Heap) allocate(r *Region, kind Kind, n int, relocs []RelocSpec) *Object {
	if r.heap != h {
		panic(fmt.Sprintf("region %s does not belong to heap %s", r, h.name))
	}
	obj := &Object{
		id:     ObjID(nextObjID.Add(1)),
		kind:   kind,
		region: r,
		slots:  make([]atomic.Pointer[Object], n),
	}
	for _, spec := range relocs {
		obj.relocs = append(obj.relocs, &RelocInfo{
			host:           obj,
			mode:           spec.Mode,
			pcOffset:       spec.PCOffset,
			inConstantPool: spec.InConstantPool,
		})
	}
	obj.offset = r.allocate(obj.Size())

	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[obj.id] = obj
	return obj
}

// GetObject retrieves an object by ID
func (h *Heap) GetObject(id ObjID) *Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.objects[id]
}

// NumObjects returns the total number of objects
func (h *Heap) NumObjects() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}

// ForEachObject iterates over all objects. fn must not allocate in h.
func (h *Heap) ForEachObject(fn func(*Object)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, obj := range h.objects {
		fn(obj)
	}
}

// SetRoots sets the GC roots
func (h *Heap) SetRoots(roots Roots) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = roots
}

// AddRoot appends obj to the GC roots
func (h *Heap) AddRoot(obj *Object) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots.IDs = append(h.roots.IDs, obj.id)
}

// GetRoots returns the GC roots
func (h *Heap) GetRoots() Roots {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Roots{IDs: append([]ObjID(nil), h.roots.IDs...)}
}
