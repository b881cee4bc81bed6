// Package dedup provides a capacity-bounded set of recently seen message ids.
package dedup

import (
	"sync"
)

// DefaultCapacity is the default number of live ids retained.
const DefaultCapacity = 10000

// Deduplicator rejects replayed message identifiers. When the capacity is
// exceeded the oldest half of inserted ids is evicted in one pass: true
// duplicates arrive within seconds of the original, so strict LRU buys
// nothing over the cheaper amortized sweep.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	index    map[string]struct{}
	order    []string
}

// New creates a Deduplicator holding at most capacity ids.
func New(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Deduplicator{
		capacity: capacity,
		index:    make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Seen reports whether id was observed before, recording it if not.
// The first call for an id returns false; every later call returns true
// until the id is evicted by capacity pressure.
func (d *Deduplicator) Seen(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[id]; ok {
		return true
	}

	if len(d.order) >= d.capacity {
		d.evictOldestHalf()
	}

	d.index[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

// Len returns the number of live ids.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

func (d *Deduplicator) evictOldestHalf() {
	half := len(d.order) / 2
	for _, id := range d.order[:half] {
		delete(d.index, id)
	}
	remaining := make([]string, len(d.order)-half, d.capacity)
	copy(remaining, d.order[half:])
	d.order = remaining
}
