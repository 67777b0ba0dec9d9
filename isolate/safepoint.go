// ABOUTME: Safepoints pausing every thread of an isolate
// ABOUTME: The global safepoint lists the clients of a shared-space isolate

package isolate

import (
	"sync"

	"github.com/prateek/markbarrier/collector"
)

// Safepoint pauses the threads of one isolate. While entered, no thread
// is inside a store and no thread can be created or closed.
type Safepoint struct {
	mu      sync.Mutex
	threads []*LocalHeap
}

func newSafepoint() *Safepoint {
	return &Safepoint{}
}

// Enter pauses every thread. It must not be called by a thread that is
// itself running a store.
func (s *Safepoint) Enter() {
	s.mu.Lock()
	for _, lh := range s.threads {
		lh.mu.Lock()
	}
}

// Leave resumes the threads paused by Enter
func (s *Safepoint) Leave() {
	for _, lh := range s.threads {
		lh.mu.Unlock()
	}
	s.mu.Unlock()
}

// IterateLocalHeaps calls fn for every thread. The safepoint must be
// entered.
func (s *Safepoint) IterateLocalHeaps(fn func(*LocalHeap)) {
	for _, lh := range s.threads {
		fn(lh)
	}
}

// LocalHeaps returns a snapshot of the isolate's threads
func (s *Safepoint) LocalHeaps() []*LocalHeap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*LocalHeap(nil), s.threads...)
}

// add registers lh after running init with no pause in progress
func (s *Safepoint) add(lh *LocalHeap, init func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	init()
	s.threads = append(s.threads, lh)
}

// remove unregisters lh after running fini with no pause in progress
func (s *Safepoint) remove(lh *LocalHeap, fini func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fini()
	for i, t := range s.threads {
		if t == lh {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			return
		}
	}
}

// GlobalSafepoint tracks the client isolates of a shared-space isolate
type GlobalSafepoint struct {
	owner   *Isolate
	mu      sync.Mutex
	clients []*Isolate
}

// IterateClientIsolates calls fn for every client. Clients cannot attach
// or detach while it runs.
func (g *GlobalSafepoint) IterateClientIsolates(fn func(*Isolate)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.clients {
		fn(c)
	}
}

// Len returns the number of attached clients
func (g *GlobalSafepoint) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// add attaches a client. A client attaching during a major cycle of the
// owner starts out shared-marking.
func (g *GlobalSafepoint) add(i *Isolate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.owner.collector
	if c.IsMarking() && c.Scope() == collector.Major {
		i.sharedMarking = true
		i.SetIsMarkingFlag(true)
	}
	g.clients = append(g.clients, i)
}

func (g *GlobalSafepoint) remove(i *Isolate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for n, c := range g.clients {
		if c == i {
			g.clients = append(g.clients[:n], g.clients[n+1:]...)
			return
		}
	}
}

// enterClients pauses every client and returns them for leaveClients
func (g *GlobalSafepoint) enterClients() []*Isolate {
	g.mu.Lock()
	clients := append([]*Isolate(nil), g.clients...)
	for _, c := range clients {
		c.safepoint.Enter()
	}
	return clients
}

func (g *GlobalSafepoint) leaveClients(clients []*Isolate) {
	for n := len(clients) - 1; n >= 0; n-- {
		clients[n].safepoint.Leave()
	}
	g.mu.Unlock()
}
