package orchestrator

import (
	"sync"

	v1 "github.com/Scarmonit/a2a/pkg/api/v1"
)

// History is a bounded ring of terminal task executions, newest first on
// read. When full, the oldest entry is evicted.
type History struct {
	mu    sync.RWMutex
	ring  []*v1.TaskExecution
	byID  map[string]*v1.TaskExecution
	next  int
	count int
}

// NewHistory creates a ring of the given capacity (minimum 1).
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{
		ring: make([]*v1.TaskExecution, size),
		byID: make(map[string]*v1.TaskExecution, size),
	}
}

// Add records a terminal execution, evicting the oldest when full.
func (h *History) Add(exec *v1.TaskExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old := h.ring[h.next]; old != nil {
		delete(h.byID, old.ID)
	}
	h.ring[h.next] = exec
	h.byID[exec.ID] = exec
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// Get returns a retained execution by ID.
func (h *History) Get(taskID string) (*v1.TaskExecution, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	exec, ok := h.byID[taskID]
	return exec, ok
}

// Recent returns up to n executions, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []*v1.TaskExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]*v1.TaskExecution, 0, n)
	idx := h.next - 1
	for len(out) < n {
		if idx < 0 {
			idx += len(h.ring)
		}
		if h.ring[idx] != nil {
			out = append(out, h.ring[idx])
		}
		idx--
	}
	return out
}

// Len returns the number of retained executions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
