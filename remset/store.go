// ABOUTME: Global old-to-old remembered set keyed by region
// ABOUTME: Absorbs per-thread typed slot sets and direct slot records

package remset

import (
	"sync"

	"github.com/prateek/markbarrier/heap"
)

// Store is the global remembered set of one heap. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	regions map[*heap.Region]*regionSet
}

type regionSet struct {
	mu    sync.Mutex
	slots *TypedSlots
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{regions: make(map[*heap.Region]*regionSet)}
}

func (s *Store) regionSet(r *heap.Region) *regionSet {
	s.mu.RLock()
	rs, ok := s.regions[r]
	s.mu.RUnlock()
	if ok {
		return rs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok = s.regions[r]; !ok {
		rs = &regionSet{slots: NewTypedSlots()}
		s.regions[r] = rs
	}
	return rs
}

// Insert records one slot of region r
func (s *Store) Insert(r *heap.Region, t SlotType, offset uint32) bool {
	rs := s.regionSet(r)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.slots.Insert(t, offset)
}

// MergeTyped absorbs a drained typed slot set for region r. The caller
// gives up ownership of slots.
func (s *Store) MergeTyped(r *heap.Region, slots *TypedSlots) int {
	rs := s.regionSet(r)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.slots.Merge(slots)
}

// Slots returns a copy of the slots recorded for region r
func (s *Store) Slots(r *heap.Region) []TypedSlot {
	s.mu.RLock()
	rs, ok := s.regions[r]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.slots.Slots()
}

// Contains reports whether slot (t, offset) of region r was recorded
func (s *Store) Contains(r *heap.Region, t SlotType, offset uint32) bool {
	s.mu.RLock()
	rs, ok := s.regions[r]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.slots.Contains(t, offset)
}

// Len returns the number of slots recorded for region r
func (s *Store) Len(r *heap.Region) int {
	s.mu.RLock()
	rs, ok := s.regions[r]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.slots.Len()
}

// Total returns the number of slots recorded across all regions
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rs := range s.regions {
		rs.mu.Lock()
		n += rs.slots.Len()
		rs.mu.Unlock()
	}
	return n
}

// Clear drops everything, typically once evacuation has used the slots
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = make(map[*heap.Region]*regionSet)
}
