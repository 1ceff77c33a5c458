// Package ringbuf provides a fixed-capacity double-ended ring buffer.
package ringbuf

import (
	"errors"
	"fmt"
)

// ErrInvalidCapacity is returned when a ring is created with a non-positive capacity.
var ErrInvalidCapacity = errors.New("capacity must be a positive integer")

// Ring is a bounded deque. Inserting into a full ring overwrites the item at
// the opposite end, so the ring always holds the most recent Cap() items in
// logical order.
//
// Ring is not safe for concurrent use; owners serialize access.
type Ring[T any] struct {
	data []T
	head int // physical index of the logical first element
	size int
}

// New creates a ring holding at most capacity items.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Ring[T]{data: make([]T, capacity)}, nil
}

// MustNew is like New but panics on an invalid capacity.
func MustNew[T any](capacity int) *Ring[T] {
	r, err := New[T](capacity)
	if err != nil {
		panic(err)
	}
	return r
}

// physical maps a logical index in [0, size) to a slot in data.
func (r *Ring[T]) physical(i int) int {
	return (r.head + i) % len(r.data)
}

// AddFirst inserts v before the first element. When full, the last element is dropped.
func (r *Ring[T]) AddFirst(v T) {
	capacity := len(r.data)
	r.head = (r.head - 1 + capacity) % capacity
	r.data[r.head] = v
	if r.size < capacity {
		r.size++
	}
}

// AddLast appends v after the last element. When full, the first element is dropped.
func (r *Ring[T]) AddLast(v T) {
	capacity := len(r.data)
	if r.size == capacity {
		r.data[r.head] = v
		r.head = (r.head + 1) % capacity
		return
	}
	r.data[r.physical(r.size)] = v
	r.size++
}

// Peek returns the element at logical index i. Negative indices count from
// the end, so Peek(-1) is the last element.
func (r *Ring[T]) Peek(i int) (T, bool) {
	if i < 0 {
		i += r.size
	}
	if i < 0 || i >= r.size {
		var zero T
		return zero, false
	}
	return r.data[r.physical(i)], true
}

// First returns the first element.
func (r *Ring[T]) First() (T, bool) { return r.Peek(0) }

// Last returns the last element.
func (r *Ring[T]) Last() (T, bool) { return r.Peek(-1) }

// RemoveFirst removes and returns the first element.
func (r *Ring[T]) RemoveFirst() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.data[r.head]
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.size--
	return v, true
}

// RemoveLast removes and returns the last element.
func (r *Ring[T]) RemoveLast() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := r.physical(r.size - 1)
	v := r.data[idx]
	r.data[idx] = zero
	r.size--
	return v, true
}

// FirstN returns a copy of up to n elements from the front.
func (r *Ring[T]) FirstN(n int) []T {
	n = min(n, r.size)
	if n <= 0 {
		return []T{}
	}
	return r.copyRange(0, n)
}

// LastN returns a copy of up to n elements from the back, in logical order.
func (r *Ring[T]) LastN(n int) []T {
	n = min(n, r.size)
	if n <= 0 {
		return []T{}
	}
	return r.copyRange(r.size-n, n)
}

// ToSlice returns a copy of all elements in logical order.
func (r *Ring[T]) ToSlice() []T {
	if r.size == 0 {
		return []T{}
	}
	return r.copyRange(0, r.size)
}

// copyRange copies n logical elements starting at logical index start.
// At most two copy calls are needed since the range wraps at most once.
func (r *Ring[T]) copyRange(start, n int) []T {
	out := make([]T, n)
	from := r.physical(start)
	k := copy(out, r.data[from:min(from+n, len(r.data))])
	if k < n {
		copy(out[k:], r.data[:n-k])
	}
	return out
}

// Do calls fn for every element in logical order.
func (r *Ring[T]) Do(fn func(i int, v T)) {
	for i := range r.size {
		fn(i, r.data[r.physical(i)])
	}
}

// Clear empties the ring without reallocating its storage.
func (r *Ring[T]) Clear() {
	clear(r.data)
	r.head = 0
	r.size = 0
}

// IsEmpty reports whether the ring holds no elements.
func (r *Ring[T]) IsEmpty() bool { return r.size == 0 }

// IsFull reports whether the next insertion will overwrite an element.
func (r *Ring[T]) IsFull() bool { return r.size == len(r.data) }

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.data) }
