package common

// Ring is a fixed-capacity FIFO that overwrites its oldest element when
// full. It is not safe for concurrent use.
type Ring[T any] struct {
	buffer   []T
	writePos int
	count    int
}

// NewRing creates a ring holding at most size elements
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{
		buffer: make([]T, size),
	}
}

// Push appends v, evicting the oldest element on overflow.
// It reports whether an element was evicted.
func (r *Ring[T]) Push(v T) bool {
	evicted := r.count == len(r.buffer)
	r.buffer[r.writePos] = v
	r.writePos = (r.writePos + 1) % len(r.buffer)
	if !evicted {
		r.count++
	}
	return evicted
}

// Snapshot returns the contents oldest-first in a new slice
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	start := (r.writePos - r.count + len(r.buffer)) % len(r.buffer)
	for i := range r.count {
		out[i] = r.buffer[(start+i)%len(r.buffer)]
	}
	return out
}

// Last returns the newest element
func (r *Ring[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buffer[(r.writePos-1+len(r.buffer))%len(r.buffer)], true
}

// Len returns the number of stored elements
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the capacity
func (r *Ring[T]) Cap() int {
	return len(r.buffer)
}

// Clear empties the ring and drops references to stored elements
func (r *Ring[T]) Clear() {
	clear(r.buffer)
	r.writePos = 0
	r.count = 0
}

// IsFull returns true if the ring is at capacity
func (r *Ring[T]) IsFull() bool {
	return r.count == len(r.buffer)
}
