// Package ringbuf provides the bounded, most-recent-wins buffer that sits
// between the feeder and the broadcast clients.
//
// Push never blocks: past capacity the oldest element is evicted. PopNewest
// returns the most recently pushed element first (LIFO), so every client
// always gets the freshest frame available.
package ringbuf

import (
	"errors"
	"sync"
)

// ErrBufferEmpty is returned by PopNewest when the ring holds nothing.
var ErrBufferEmpty = errors.New("buffer empty")

// Stats counts ring activity.
type Stats struct {
	Pushes    int64
	Evictions int64
	Pops      int64
	Len       int
	Capacity  int
}

// Ring is a fixed-capacity ring of T. Safe for concurrent use.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // index of the oldest element
	size  int
	stats Stats

	changed chan struct{}
}

// New creates a ring holding at most capacity elements.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{
		buf:     make([]T, capacity),
		changed: make(chan struct{}),
		stats:   Stats{Capacity: capacity},
	}
}

// Push appends v, evicting the oldest element when full.
// It reports whether an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := false
	if r.size == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.stats.Evictions++
		evicted = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.stats.Pushes++

	close(r.changed)
	r.changed = make(chan struct{})
	return evicted
}

// PopNewest removes and returns the most recently pushed element.
func (r *Ring[T]) PopNewest() (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, ErrBufferEmpty
	}
	idx := (r.head + r.size - 1) % len(r.buf)
	v := r.buf[idx]
	r.buf[idx] = zero
	r.size--
	r.stats.Pops++
	return v, nil
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Changed returns a channel closed at the next Push. Callers waiting on an
// empty ring select on it instead of polling.
func (r *Ring[T]) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Stats returns a snapshot of ring counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Len = r.size
	return s
}
