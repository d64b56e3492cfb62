// Package queue implements the ready queue of the execution engine: a
// priority heap of steps whose dependencies are satisfied, ordered by
// priority descending with enqueue time as a FIFO tie-break.
package queue

import (
	"container/heap"
	"sync"
	"time"

	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// Item is one ready step waiting for a worker slot.
type Item struct {
	TaskID     string
	Step       *v1.Step
	EnqueuedAt time.Time
	index      int
	seq        uint64
}

// Queue is a thread-safe priority queue with O(1) membership lookup.
type Queue struct {
	mu     sync.Mutex
	items  priorityHeap
	lookup map[string]*Item // step ID -> item
	seq    uint64
}

// New creates an empty ready queue.
func New() *Queue {
	q := &Queue{
		lookup: make(map[string]*Item),
	}
	heap.Init(&q.items)
	return q
}

// Push enqueues a ready step. Re-pushing a step already queued is a no-op;
// the step keeps its original position.
func (q *Queue) Push(taskID string, step *v1.Step) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.lookup[step.ID]; exists {
		return
	}
	q.seq++
	item := &Item{
		TaskID:     taskID,
		Step:       step,
		EnqueuedAt: time.Now(),
		seq:        q.seq,
	}
	heap.Push(&q.items, item)
	q.lookup[step.ID] = item
}

// Pop removes and returns the highest-priority ready step, or nil when empty.
func (q *Queue) Pop() *Item {
	return q.PopWhere(nil)
}

// PopWhere removes and returns the highest-priority step accepted by the
// predicate, leaving rejected steps queued in their original order. Returns
// nil when no queued step is acceptable.
func (q *Queue) PopWhere(accept func(*v1.Step) bool) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var deferred []*Item
	var picked *Item
	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*Item)
		if accept == nil || accept(item.Step) {
			picked = item
			delete(q.lookup, item.Step.ID)
			break
		}
		deferred = append(deferred, item)
	}
	// Items keep their sequence numbers, so reinserting preserves order.
	for _, item := range deferred {
		heap.Push(&q.items, item)
	}
	return picked
}

// Remove drops a queued step, returning whether it was present. Used when a
// task is cancelled while some of its steps are still waiting.
func (q *Queue) Remove(stepID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.lookup[stepID]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.lookup, stepID)
	return true
}

// Contains reports whether the step is queued.
func (q *Queue) Contains(stepID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.lookup[stepID]
	return ok
}

// Len returns the queue size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// priorityHeap orders by priority descending, then by enqueue sequence
// ascending so equal priorities drain FIFO.
type priorityHeap []*Item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].Step.Priority != h[j].Step.Priority {
		return h[i].Step.Priority > h[j].Step.Priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
