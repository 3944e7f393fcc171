package util

import "sync"

// Ring is a fixed-capacity append-only buffer that discards the oldest
// entries once full. Safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	cap   int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, 0, capacity), cap: capacity}
}

func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	if len(r.items) < r.cap {
		r.items = append(r.items, item)
	} else {
		r.items[r.start] = item
		r.start = (r.start + 1) % r.cap
	}
	r.mu.Unlock()
}

// Items returns the buffered entries, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for i := 0; i < len(r.items); i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
