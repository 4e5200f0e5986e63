// Package deadlineheap provides a priority queue that pairs a binary heap
// with a map for O(1) key lookup, used by the Refresher to always know
// which held lock's lease needs refreshing next.
//
// This is a generic reworking of the garbage-collection priority queue used
// elsewhere in this codebase: instead of a fixed uint64 object ID, any
// comparable key type can be prioritized - the Refresher indexes by lock
// name.
//
// Concurrency: like its predecessor, this implementation is not thread-safe.
// The Refresher serializes all access to it from its own goroutine.
package deadlineheap

import "container/heap"

// entry is a single item in the heap.
type entry[K comparable] struct {
	key      K
	deadline int64 // UnixNano
	index    int
}

// innerHeap implements container/heap.Interface over a slice of entries.
type innerHeap[K comparable] []*entry[K]

func (h innerHeap[K]) Len() int { return len(h) }
func (h innerHeap[K]) Less(i, j int) bool {
	return h[i].deadline < h[j].deadline
}
func (h innerHeap[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *innerHeap[K]) Push(x interface{}) {
	e := x.(*entry[K])
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *innerHeap[K]) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// DeadlineHeap is a priority queue keyed by K, ordered by an int64 deadline
// (typically a UnixNano timestamp), with O(1) key-based lookup.
type DeadlineHeap[K comparable] struct {
	h    innerHeap[K]
	byKey map[K]*entry[K]
}

// New creates an empty DeadlineHeap.
func New[K comparable]() *DeadlineHeap[K] {
	return &DeadlineHeap[K]{
		h:     make(innerHeap[K], 0),
		byKey: make(map[K]*entry[K]),
	}
}

// Upsert inserts key with the given deadline, or updates its deadline if it
// is already present.
func (d *DeadlineHeap[K]) Upsert(key K, deadline int64) {
	if e, ok := d.byKey[key]; ok {
		e.deadline = deadline
		heap.Fix(&d.h, e.index)
		return
	}
	e := &entry[K]{key: key, deadline: deadline}
	heap.Push(&d.h, e)
	d.byKey[key] = e
}

// Remove removes key from the heap. It is a no-op if key is not present.
func (d *DeadlineHeap[K]) Remove(key K) {
	e, ok := d.byKey[key]
	if !ok {
		return
	}
	heap.Remove(&d.h, e.index)
	delete(d.byKey, key)
}

// Peek returns the key with the nearest deadline without removing it.
func (d *DeadlineHeap[K]) Peek() (key K, deadline int64, ok bool) {
	if len(d.h) == 0 {
		return key, 0, false
	}
	return d.h[0].key, d.h[0].deadline, true
}

// Contains reports whether key is currently tracked.
func (d *DeadlineHeap[K]) Contains(key K) bool {
	_, ok := d.byKey[key]
	return ok
}

// Len returns the number of tracked keys.
func (d *DeadlineHeap[K]) Len() int {
	return len(d.h)
}
