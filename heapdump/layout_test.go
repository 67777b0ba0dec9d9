// ABOUTME: Tests for populating heaps from layouts
// ABOUTME: Covers reference linking, shared objects and invalid fixtures

package heapdump

import (
	"errors"
	"strings"
	"testing"

	"github.com/prateek/markbarrier/heap"
)

func TestPopulate(t *testing.T) {
	layout, err := Open(strings.NewReader(`{
		"objects": [
			{"name": "root", "slots": ["child", null, "shared"]},
			{"name": "child", "space": "new", "slots": ["root"]},
			{"name": "shared", "space": "shared"},
			{"name": "fn", "space": "code", "kind": "code",
			 "relocs": [{"mode": "code-target", "pc": 8, "target": "fn"}]},
			{"name": "map", "kind": "descriptor-array", "descriptors": [["child", "child", "root"]]},
			{"name": "buf", "space": "new", "kind": "array-buffer", "extension": 3}
		],
		"roots": ["root", "fn"]
	}`))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	h := heap.NewHeap("local")
	shared := heap.NewHeap("shared")
	objs, err := layout.Populate(h, shared, nil)
	if err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	if h.NumObjects() != 5 || shared.NumObjects() != 1 {
		t.Errorf("Allocated %d local and %d shared objects", h.NumObjects(), shared.NumObjects())
	}
	root := objs["root"]
	if root.Load(0) != objs["child"] || root.Load(1) != nil || root.Load(2) != objs["shared"] {
		t.Errorf("root slots not linked")
	}
	if !objs["child"].InYoungGeneration() || !objs["shared"].InSharedWritableHeap() {
		t.Errorf("objects allocated in the wrong spaces")
	}
	if objs["fn"].Reloc(0).Target() != objs["fn"] {
		t.Errorf("reloc target not linked")
	}
	dmap := objs["map"]
	if dmap.NumberOfDescriptors() != 1 || dmap.Load(heap.DescriptorSlot(0)+2) != root {
		t.Errorf("descriptors not appended")
	}
	if ext := objs["buf"].Extension(); ext == nil || ext.ID != 3 {
		t.Errorf("extension = %v", ext)
	}

	roots := h.GetRoots()
	if len(roots.IDs) != 2 || roots.IDs[0] != root.ID() || roots.IDs[1] != objs["fn"].ID() {
		t.Errorf("roots = %v", roots.IDs)
	}
}

func TestPopulateResolvesKnownObjects(t *testing.T) {
	ownerHeap := heap.NewHeap("owner")
	owner := &Layout{Objects: []ObjectSpec{{Name: "table", Space: heap.SharedSpace}}}
	known, err := owner.Populate(ownerHeap, ownerHeap, nil)
	if err != nil {
		t.Fatalf("owner Populate failed: %v", err)
	}

	clientHeap := heap.NewHeap("client")
	client := &Layout{
		Objects: []ObjectSpec{{Name: "local", Space: heap.OldSpace, Slots: []string{"table"}}},
		Roots:   []string{"local"},
	}
	objs, err := client.Populate(clientHeap, ownerHeap, known)
	if err != nil {
		t.Fatalf("client Populate failed: %v", err)
	}
	if objs["local"].Load(0) != known["table"] {
		t.Errorf("client object does not point at the shared table")
	}
	if len(objs) != 2 {
		t.Errorf("Expected known and new objects, got %d", len(objs))
	}
}

func TestPopulateErrors(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		want   error
	}{
		{
			name:   "unknown slot target",
			layout: Layout{Objects: []ObjectSpec{{Name: "a", Slots: []string{"ghost"}}}},
			want:   ErrUnknownObject,
		},
		{
			name:   "unknown root",
			layout: Layout{Roots: []string{"ghost"}},
			want:   ErrUnknownObject,
		},
		{
			name:   "duplicate name",
			layout: Layout{Objects: []ObjectSpec{{Name: "a"}, {Name: "a"}}},
			want:   ErrInvalidLayout,
		},
		{
			name:   "shared object without shared heap",
			layout: Layout{Objects: []ObjectSpec{{Name: "a", Space: heap.SharedSpace}}},
			want:   ErrInvalidLayout,
		},
		{
			name:   "code outside code space",
			layout: Layout{Objects: []ObjectSpec{{Name: "a", Kind: heap.KindCode}}},
			want:   ErrInvalidLayout,
		},
		{
			name: "unknown reloc target",
			layout: Layout{Objects: []ObjectSpec{{
				Name: "a", Space: heap.CodeSpace, Kind: heap.KindCode,
				Relocs: []RelocEntry{{Mode: heap.RelocCodeTarget, Target: "ghost"}},
			}}},
			want: ErrUnknownObject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.layout.Populate(heap.NewHeap("test"), nil, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Populate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
