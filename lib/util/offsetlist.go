package util

import (
	"iter"
)

// OffsetList is an ordered list whose iteration starts at a configurable
// offset and wraps around once, so every element is visited exactly once.
// Workers use it to rotate the backend that is served first without every
// worker favouring the same backend.
//
// OffsetList is not safe for concurrent use.
type OffsetList[T any] struct {
	items  []T
	offset int
}

// NewOffsetList creates a list holding items in the given order
func NewOffsetList[T any](items ...T) *OffsetList[T] {
	return &OffsetList[T]{items: append([]T(nil), items...)}
}

// Len returns the number of elements
func (l *OffsetList[T]) Len() int {
	return len(l.items)
}

// Offset returns the index iteration currently starts at
func (l *OffsetList[T]) Offset() int {
	return l.offset
}

// SetOffset makes iteration start at index i. Indices outside the list wrap
// around, negative ones included.
func (l *OffsetList[T]) SetOffset(i int) {
	n := len(l.items)
	if n == 0 {
		l.offset = 0
		return
	}
	l.offset = ((i % n) + n) % n
}

// At returns the i-th element in iteration order
func (l *OffsetList[T]) At(i int) T {
	return l.items[(l.offset+i)%len(l.items)]
}

// All iterates over the elements starting at the offset. The index passed to
// yield is the position in iteration order.
func (l *OffsetList[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		n := len(l.items)
		for i := 0; i < n; i++ {
			if !yield(i, l.items[(l.offset+i)%n]) {
				return
			}
		}
	}
}

// Items returns the elements in insertion order
func (l *OffsetList[T]) Items() []T {
	return l.items
}

// Add appends an element
func (l *OffsetList[T]) Add(item T) {
	l.items = append(l.items, item)
}

// RemoveFunc removes every element for which match returns true and returns
// the number of removed elements. The offset is kept in range.
func (l *OffsetList[T]) RemoveFunc(match func(T) bool) int {
	kept := l.items[:0]
	for _, item := range l.items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	removed := len(l.items) - len(kept)

	var zero T
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	l.SetOffset(l.offset)
	return removed
}
