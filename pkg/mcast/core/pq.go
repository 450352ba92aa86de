package core

import (
	"container/heap"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// pqEntry is one slot in the underlying binary heap: a MessageID, its
// currently-known priority, and the heap index container/heap needs to
// support an O(log n) fix-up after an external priority change.
type pqEntry struct {
	id       types.MessageID
	priority types.MessagePriority
	index    int
}

type pqHeap []*pqEntry

func (h pqHeap) Len() int { return len(h) }

// Less orders by MessagePriority under the total order from spec.md §3:
// the smallest priority is the heap's minimum.
func (h pqHeap) Less(i, j int) bool { return h[i].priority.Less(h[j].priority) }

func (h pqHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pqHeap) Push(x interface{}) {
	entry := x.(*pqEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *pqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// PriorityQueue is the indexed priority queue from spec.md §3: keyed by
// MessageID, valued by MessagePriority, supporting peek-min, pop-min,
// remove-by-key, and priority-increase-or-insert, all in O(log n).
type PriorityQueue struct {
	h     pqHeap
	index map[types.MessageID]*pqEntry
}

// NewPriorityQueue returns an empty PriorityQueue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		h:     make(pqHeap, 0),
		index: make(map[types.MessageID]*pqEntry),
	}
}

// Len returns the number of entries currently queued.
func (pq *PriorityQueue) Len() int { return len(pq.h) }

// Contains reports whether id is currently queued.
func (pq *PriorityQueue) Contains(id types.MessageID) bool {
	_, ok := pq.index[id]
	return ok
}

// Insert adds id with priority. It panics if id is already present - the
// caller must use IncreaseOrInsert for updates, preserving invariant I1
// (the PQ and queued_messages key sets match).
func (pq *PriorityQueue) Insert(id types.MessageID, priority types.MessagePriority) {
	if _, ok := pq.index[id]; ok {
		panic("pq: Insert called for an id already present")
	}
	entry := &pqEntry{id: id, priority: priority}
	pq.index[id] = entry
	heap.Push(&pq.h, entry)
}

// IncreaseOrInsert inserts id if absent, or replaces its priority if
// newPriority sorts strictly after the current one - the "priority
// increase" operation used throughout the agreement protocol (spec.md
// §4.5: the originator always keeps the maximum of all votes seen, and
// receivers adopt the final agreed priority, which is always >= their own
// proposal). A newPriority that does not sort after the current one is a
// no-op, keeping the update idempotent under message reordering.
func (pq *PriorityQueue) IncreaseOrInsert(id types.MessageID, newPriority types.MessagePriority) {
	entry, ok := pq.index[id]
	if !ok {
		pq.Insert(id, newPriority)
		return
	}
	if !entry.priority.Less(newPriority) {
		return
	}
	entry.priority = newPriority
	heap.Fix(&pq.h, entry.index)
}

// PeekMin returns the MessageID and MessagePriority currently at the top
// of the queue, under the total order from spec.md §3.
func (pq *PriorityQueue) PeekMin() (types.MessageID, types.MessagePriority, bool) {
	if len(pq.h) == 0 {
		return types.MessageID{}, types.MessagePriority{}, false
	}
	top := pq.h[0]
	return top.id, top.priority, true
}

// PopMin removes and returns the current minimum.
func (pq *PriorityQueue) PopMin() (types.MessageID, types.MessagePriority, bool) {
	if len(pq.h) == 0 {
		return types.MessageID{}, types.MessagePriority{}, false
	}
	entry := heap.Pop(&pq.h).(*pqEntry)
	delete(pq.index, entry.id)
	return entry.id, entry.priority, true
}

// Remove deletes id from the queue if present, returning whether it was
// found. Used by the grace-period flush (spec.md §4.5.2) to drop
// unconfirmed messages from a dead originator.
func (pq *PriorityQueue) Remove(id types.MessageID) bool {
	entry, ok := pq.index[id]
	if !ok {
		return false
	}
	heap.Remove(&pq.h, entry.index)
	delete(pq.index, id)
	return true
}

// Priority returns the currently-known priority for id.
func (pq *PriorityQueue) Priority(id types.MessageID) (types.MessagePriority, bool) {
	entry, ok := pq.index[id]
	if !ok {
		return types.MessagePriority{}, false
	}
	return entry.priority, true
}
