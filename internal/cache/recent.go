package cache

import "sync"

// DefaultRecentSize is the number of served ids remembered when size is zero.
const DefaultRecentSize = 3

// RecentWindow remembers the ids most recently served from the store, oldest first.
// It lives for the process lifetime and is never persisted.
type RecentWindow struct {
	mu   sync.Mutex
	size int
	ids  []int64
}

// NewRecentWindow returns an empty window holding at most size ids.
func NewRecentWindow(size int) *RecentWindow {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &RecentWindow{size: size, ids: make([]int64, 0, size+1)}
}

// Excluded returns a copy of the window contents, oldest first.
func (w *RecentWindow) Excluded() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, len(w.ids))
	copy(out, w.ids)
	return out
}

// Record appends id and drops the oldest entries beyond capacity.
func (w *RecentWindow) Record(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, id)
	if over := len(w.ids) - w.size; over > 0 {
		w.ids = append(w.ids[:0], w.ids[over:]...)
	}
}

// Len reports how many ids are currently held.
func (w *RecentWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ids)
}
