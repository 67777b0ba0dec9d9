// ABOUTME: Per-thread typed slot map buffered until publish
// ABOUTME: Sets are created lazily per region and drained into the Store

package remset

import "github.com/prateek/markbarrier/heap"

// LocalTypedSlots buffers typed slots recorded by one thread. It is not
// safe for concurrent use.
type LocalTypedSlots struct {
	regions map[*heap.Region]*TypedSlots
}

// NewLocalTypedSlots creates an empty map
func NewLocalTypedSlots() *LocalTypedSlots {
	return &LocalTypedSlots{regions: make(map[*heap.Region]*TypedSlots)}
}

// Insert records (t, offset) for region r, creating r's set on first use
func (l *LocalTypedSlots) Insert(r *heap.Region, t SlotType, offset uint32) bool {
	ts, ok := l.regions[r]
	if !ok {
		ts = NewTypedSlots()
		l.regions[r] = ts
	}
	return ts.Insert(t, offset)
}

// IsEmpty reports whether no region has pending slots
func (l *LocalTypedSlots) IsEmpty() bool { return len(l.regions) == 0 }

// Len returns the number of pending slots for region r
func (l *LocalTypedSlots) Len(r *heap.Region) int {
	if ts, ok := l.regions[r]; ok {
		return ts.Len()
	}
	return 0
}

// NumRegions returns the number of regions with pending slots
func (l *LocalTypedSlots) NumRegions() int { return len(l.regions) }

// MergeInto drains every region's set into store and returns how many
// slots were new to the store. With lockRegions, each region's mutex is
// held while its set is merged, excluding concurrent publication of code
// into the same region from another thread.
func (l *LocalTypedSlots) MergeInto(store *Store, lockRegions bool) int {
	if len(l.regions) == 0 {
		return 0
	}
	merged := 0
	for r, ts := range l.regions {
		if lockRegions {
			r.Mutex().Lock()
		}
		merged += store.MergeTyped(r, ts)
		if lockRegions {
			r.Mutex().Unlock()
		}
	}
	clear(l.regions)
	return merged
}
