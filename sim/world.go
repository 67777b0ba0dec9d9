// ABOUTME: Simulated runtime built from a configuration
// ABOUTME: Creates isolates and threads and populates their heaps

// Package sim runs marking cycles against simulated isolates while
// mutator goroutines keep rewriting the heap, then checks that no object
// reachable from the roots was left unmarked.
package sim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/prateek/markbarrier/config"
	"github.com/prateek/markbarrier/heap"
	"github.com/prateek/markbarrier/heapdump"
	"github.com/prateek/markbarrier/internal/check"
	"github.com/prateek/markbarrier/isolate"
	"github.com/prateek/markbarrier/marking"
)

var (
	// ErrUnknownIsolate is returned for cycles naming no configured isolate
	ErrUnknownIsolate = errors.New("unknown isolate")
	// ErrLostObject is returned when a reachable object ends a cycle white
	ErrLostObject = errors.New("reachable object left unmarked")
	// ErrForgottenSlot is returned when a compacting cycle ends without
	// remembering a slot that points at an object it moves
	ErrForgottenSlot = errors.New("slot into evacuation candidate not remembered")
)

// World is a set of isolates sharing one barrier registry
type World struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *marking.Registry

	isolates []*isolate.Isolate
	byName   map[string]*isolate.Isolate
	threads  map[*isolate.Isolate][]*isolate.LocalHeap
	pools    map[*isolate.Isolate]*pool
	shared   *pool
	// movable is the shared region compacting owner cycles evacuate
	movable *heap.Region
}

// Build creates the isolates of cfg. Fixture paths are relative to dir.
func Build(cfg *config.Config, dir string, log *slog.Logger) (*World, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	check.SetEnabled(cfg.Flags.DebugChecks)

	w := &World{
		cfg:      cfg,
		log:      log,
		registry: marking.NewRegistry(),
		byName:   make(map[string]*isolate.Isolate),
		threads:  make(map[*isolate.Isolate][]*isolate.LocalHeap),
		pools:    make(map[*isolate.Isolate]*pool),
		shared:   &pool{},
	}

	// The owner goes first so clients can attach and name shared objects.
	specs := make([]config.IsolateSpec, 0, len(cfg.Isolates))
	for _, spec := range cfg.Isolates {
		if spec.Owner {
			specs = append([]config.IsolateSpec{spec}, specs...)
		} else {
			specs = append(specs, spec)
		}
	}

	var owner *isolate.Isolate
	known := heapdump.Objects{}
	for n, spec := range specs {
		opts := isolate.Options{
			Name:               spec.Name,
			Flags:              cfg.Flags,
			SharedSpaceIsolate: spec.Owner && cfg.Flags.SharedSpace,
			Registry:           w.registry,
			Logger:             log,
		}
		if !spec.Owner && owner != nil {
			opts.SharedIsolate = owner
		}
		iso, err := isolate.New(opts)
		if err != nil {
			w.Close()
			return nil, err
		}
		if iso.IsSharedSpaceIsolate() {
			owner = iso
			w.movable = iso.Heap().AddRegion(heap.SharedSpace)
		}
		w.isolates = append(w.isolates, iso)
		w.byName[spec.Name] = iso

		threads := []*isolate.LocalHeap{iso.MainThread()}
		for t := 1; t < spec.Threads; t++ {
			threads = append(threads, iso.NewThread())
		}
		w.threads[iso] = threads

		layout, err := w.layout(spec, dir, cfg.Seed+int64(n))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("isolate %s: %w", spec.Name, err)
		}
		objs, err := layout.Populate(iso.Heap(), iso.SharedHeap(), known)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("isolate %s: %w", spec.Name, err)
		}
		w.pools[iso] = &pool{}
		for name, obj := range objs {
			if _, seen := known[name]; seen {
				continue
			}
			known[name] = obj
			if obj.InSharedWritableHeap() {
				w.shared.add(obj)
			} else {
				w.pools[iso].add(obj)
			}
		}
		log.Info("isolate ready", "isolate", spec.Name, "threads", len(threads),
			"objects", iso.Heap().NumObjects(), "owner", iso.IsSharedSpaceIsolate())
	}
	return w, nil
}

func (w *World) layout(spec config.IsolateSpec, dir string, seed int64) (*heapdump.Layout, error) {
	if spec.Fixture == "" {
		return generateLayout(spec.Name, spec.Owner && w.cfg.Flags.SharedSpace, newRand(seed)), nil
	}
	path := spec.Fixture
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return heapdump.Load(path)
}

// Isolate returns the isolate named name
func (w *World) Isolate(name string) (*isolate.Isolate, error) {
	iso, ok := w.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIsolate, name)
	}
	return iso, nil
}

// Isolates returns every isolate, the shared-space isolate first
func (w *World) Isolates() []*isolate.Isolate { return w.isolates }

// Close closes the isolates, clients before their owner
func (w *World) Close() error {
	var errs []error
	for n := len(w.isolates) - 1; n >= 0; n-- {
		iso := w.isolates[n]
		for _, lh := range w.threads[iso][1:] {
			errs = append(errs, lh.Close())
		}
		w.threads[iso] = w.threads[iso][:1]
		errs = append(errs, iso.Close())
	}
	return errors.Join(errs...)
}

// generateLayout builds a small random heap for isolates without a
// fixture. Owners also get shared objects.
func generateLayout(prefix string, owner bool, rng *rand.Rand) *heapdump.Layout {
	name := func(kind string, i int) string { return fmt.Sprintf("%s/%s%d", prefix, kind, i) }
	l := &heapdump.Layout{}

	var local []string
	for i := 0; i < 8; i++ {
		local = append(local, name("old", i), name("young", i))
	}
	pick := func(from []string) string {
		if rng.Intn(4) == 0 {
			return ""
		}
		return from[rng.Intn(len(from))]
	}

	var shared []string
	if owner {
		for i := 0; i < 4; i++ {
			shared = append(shared, name("shared", i))
		}
		for _, n := range shared {
			l.Objects = append(l.Objects, heapdump.ObjectSpec{
				Name: n, Space: heap.SharedSpace, Slots: []string{pick(shared), pick(shared)},
			})
		}
	}

	for i := 0; i < 8; i++ {
		l.Objects = append(l.Objects,
			heapdump.ObjectSpec{Name: name("old", i), Space: heap.OldSpace, Slots: []string{pick(local), pick(local)}},
			heapdump.ObjectSpec{Name: name("young", i), Space: heap.NewSpace, Slots: []string{pick(local), pick(local)}},
		)
	}

	rootSlots := []string{name("old", 0), name("young", 0), name("code", 0), name("map", 0), name("buf", 0)}
	if owner {
		rootSlots = append(rootSlots, shared[0])
	}
	l.Objects = append(l.Objects,
		heapdump.ObjectSpec{Name: name("root", 0), Space: heap.OldSpace, Slots: rootSlots},
		heapdump.ObjectSpec{
			Name: name("code", 0), Space: heap.CodeSpace, Kind: heap.KindCode,
			Relocs: []heapdump.RelocEntry{
				{Mode: heap.RelocFullEmbeddedObject, PCOffset: 8, Target: local[rng.Intn(len(local))]},
				{Mode: heap.RelocCodeTarget, PCOffset: 24, Target: name("code", 0)},
				{Mode: heap.RelocExternalReference, PCOffset: 40},
			},
		},
		heapdump.ObjectSpec{
			Name: name("map", 0), Space: heap.OldSpace, Kind: heap.KindDescriptorArray, Capacity: 32,
			Descriptors: [][3]string{{name("old", 1), name("old", 2), name("young", 1)}},
		},
		heapdump.ObjectSpec{Name: name("buf", 0), Space: heap.NewSpace, Kind: heap.KindArrayBuffer, Extension: 1},
	)
	l.Roots = []string{name("root", 0)}
	return l
}

func newRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

// pool is the set of objects mutators pick hosts and values from
type pool struct {
	mu   sync.Mutex
	objs []*heap.Object
}

func (p *pool) add(obj *heap.Object) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objs = append(p.objs, obj)
}

func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objs)
}

// pick returns a random object accepted by ok, or nil if there is none
func (p *pool) pick(rng *rand.Rand, ok func(*heap.Object) bool) *heap.Object {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.objs)
	if n == 0 {
		return nil
	}
	start := rng.Intn(n)
	for i := 0; i < n; i++ {
		obj := p.objs[(start+i)%n]
		if ok == nil || ok(obj) {
			return obj
		}
	}
	return nil
}
