// ABOUTME: Heap layout fixtures describing objects by name
// ABOUTME: Populate allocates a layout into a heap and links its references

// Package heapdump loads heap layout fixtures. A fixture names objects,
// their spaces and their references; formats register a Parser and Open
// picks the one that recognizes the input.
package heapdump

import (
	"errors"
	"fmt"

	"github.com/prateek/markbarrier/heap"
)

var (
	// ErrInvalidLayout is returned for fixtures that cannot be populated
	ErrInvalidLayout = errors.New("invalid heap layout")
	// ErrUnknownObject is returned for references to undefined names
	ErrUnknownObject = errors.New("unknown object")
)

// Layout is a parsed heap fixture
type Layout struct {
	Objects []ObjectSpec
	Roots   []string
}

// ObjectSpec describes one object. Slot, reloc and descriptor entries
// name other objects; an empty name is a nil reference.
type ObjectSpec struct {
	Name  string
	Space heap.Space
	Kind  heap.Kind
	Slots []string
	// Relocs describes the relocation entries of a code object
	Relocs []RelocEntry
	// Capacity and Descriptors describe a descriptor array
	Capacity    int
	Descriptors [][3]string
	// Extension is the id of an array buffer's extension, 0 for none
	Extension uint64
}

// RelocEntry describes one relocation entry and its target
type RelocEntry struct {
	Mode           heap.RelocMode
	PCOffset       uint32
	InConstantPool bool
	Target         string
}

// Objects maps fixture names to populated objects
type Objects map[string]*heap.Object

// Populate allocates every object of the layout and links references.
// Objects in shared spaces go to shared, which may be nil when the layout
// has none. known resolves names defined by previously populated layouts;
// the returned map holds those plus the new objects.
func (l *Layout) Populate(h, shared *heap.Heap, known Objects) (Objects, error) {
	objs := make(Objects, len(known)+len(l.Objects))
	for name, obj := range known {
		objs[name] = obj
	}

	for i, spec := range l.Objects {
		if spec.Name == "" {
			return nil, fmt.Errorf("object %d: %w: missing name", i, ErrInvalidLayout)
		}
		if _, dup := objs[spec.Name]; dup {
			return nil, fmt.Errorf("object %s: %w: duplicate name", spec.Name, ErrInvalidLayout)
		}
		obj, err := allocate(h, shared, spec)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", spec.Name, err)
		}
		objs[spec.Name] = obj
	}

	for _, spec := range l.Objects {
		if err := link(objs, spec); err != nil {
			return nil, fmt.Errorf("object %s: %w", spec.Name, err)
		}
	}

	for _, name := range l.Roots {
		obj, ok := objs[name]
		if !ok {
			return nil, fmt.Errorf("root %s: %w", name, ErrUnknownObject)
		}
		h.AddRoot(obj)
	}
	return objs, nil
}

func allocate(h, shared *heap.Heap, spec ObjectSpec) (*heap.Object, error) {
	if spec.Space.IsSharedWritable() {
		if shared == nil {
			return nil, fmt.Errorf("%w: %s without a shared heap", ErrInvalidLayout, spec.Space)
		}
		h = shared
	}
	r := h.Region(spec.Space)

	switch spec.Kind {
	case heap.KindPlain:
		return h.Allocate(r, len(spec.Slots)), nil
	case heap.KindCode:
		if !spec.Space.IsCode() {
			return nil, fmt.Errorf("%w: code in %s", ErrInvalidLayout, spec.Space)
		}
		relocs := make([]heap.RelocSpec, len(spec.Relocs))
		for i, e := range spec.Relocs {
			relocs[i] = heap.RelocSpec{Mode: e.Mode, PCOffset: e.PCOffset, InConstantPool: e.InConstantPool}
		}
		return h.AllocateCode(r, len(spec.Slots), relocs), nil
	case heap.KindDescriptorArray:
		capacity := spec.Capacity
		if capacity < len(spec.Descriptors) {
			capacity = len(spec.Descriptors)
		}
		if capacity > heap.MaxDescriptors {
			return nil, fmt.Errorf("%w: capacity %d", ErrInvalidLayout, capacity)
		}
		return h.AllocateDescriptorArray(r, capacity), nil
	case heap.KindArrayBuffer:
		buf := h.AllocateArrayBuffer(r)
		if spec.Extension != 0 {
			buf.SetExtension(&heap.Extension{ID: spec.Extension})
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrInvalidLayout, spec.Kind)
}

func link(objs Objects, spec ObjectSpec) error {
	obj := objs[spec.Name]
	resolve := func(name string) (*heap.Object, error) {
		if name == "" {
			return nil, nil
		}
		target, ok := objs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownObject, name)
		}
		return target, nil
	}

	if spec.Kind != heap.KindDescriptorArray {
		for i, name := range spec.Slots {
			v, err := resolve(name)
			if err != nil {
				return err
			}
			obj.Store(i, v)
		}
	}
	for i, e := range spec.Relocs {
		v, err := resolve(e.Target)
		if err != nil {
			return err
		}
		obj.Reloc(i).SetTarget(v)
	}
	for _, d := range spec.Descriptors {
		var entry [3]*heap.Object
		for n, name := range d {
			v, err := resolve(name)
			if err != nil {
				return err
			}
			entry[n] = v
		}
		obj.AppendDescriptor(entry[0], entry[1], entry[2])
	}
	return nil
}

func parseKind(name string) (heap.Kind, error) {
	if name == "" {
		return heap.KindPlain, nil
	}
	for _, k := range []heap.Kind{heap.KindPlain, heap.KindCode, heap.KindDescriptorArray, heap.KindArrayBuffer} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: kind %q", ErrInvalidLayout, name)
}

func parseRelocMode(name string) (heap.RelocMode, error) {
	for _, m := range []heap.RelocMode{
		heap.RelocFullEmbeddedObject, heap.RelocCompressedEmbeddedObject, heap.RelocCodeTarget,
		heap.RelocExternalReference, heap.RelocOffHeapTarget,
	} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: reloc mode %q", ErrInvalidLayout, name)
}
