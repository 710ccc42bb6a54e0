// Package ringbuf provides the fixed-capacity FIFO that backs each
// vehicle's frame history. Overflow drops the oldest element.
package ringbuf

// Ring is a fixed-capacity FIFO. Not safe for concurrent use; callers
// synchronize externally (the state store holds a shard lock around
// Push and Snapshot).
type Ring[T any] struct {
	buf   []T
	start int // index of the oldest element
	count int
}

// New returns a ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when full.
func (r *Ring[T]) Push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Snapshot returns the elements oldest to newest in a freshly allocated
// slice. The result never aliases the ring's storage, so feature code
// can iterate it without holding any lock.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Newest returns the most recently pushed element, or the zero value and
// false when empty.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}
