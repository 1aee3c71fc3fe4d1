// Package ringbuf provides a bounded, overwrite-oldest ring buffer that keeps
// items in arrival order. It has a single owner and no internal locking.
package ringbuf

// Ring holds at most Cap() items. Pushing into a full ring evicts the oldest.
type Ring[T any] struct {
	buf  []T
	pos  int // next write position
	full bool

	evicted uint64
}

// New creates a ring with the given capacity. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, overwriting the oldest item when the ring is full.
// Returns true if an item was evicted.
func (r *Ring[T]) Push(v T) bool {
	evict := r.full
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 && !r.full {
		r.full = true
	}
	if evict {
		r.evicted++
	}
	return evict
}

// Slice returns a copy of the items, oldest first.
func (r *Ring[T]) Slice() []T {
	n := r.Len()
	out := make([]T, n)
	if r.full {
		copy(out, r.buf[r.pos:])
		copy(out[len(r.buf)-r.pos:], r.buf[:r.pos])
	} else {
		copy(out, r.buf[:n])
	}
	return out
}

// Oldest returns the oldest held item; on a full ring it is the next to be evicted.
func (r *Ring[T]) Oldest() (T, bool) {
	var zero T
	switch {
	case r.full:
		return r.buf[r.pos], true
	case r.pos > 0:
		return r.buf[0], true
	default:
		return zero, false
	}
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns the total number of items overwritten.
func (r *Ring[T]) Evicted() uint64 {
	return r.evicted
}
