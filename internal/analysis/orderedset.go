package analysis

import "slices"

// orderedSet is a hash set that remembers insertion order, so every listing
// derived from it is reproducible across runs.
type orderedSet[T comparable] struct {
	items []T
	index map[T]struct{}
}

// Add inserts v and reports whether it was new.
func (s *orderedSet[T]) Add(v T) bool {
	if s.index == nil {
		s.index = make(map[T]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *orderedSet[T]) Has(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet[T]) Len() int { return len(s.items) }

// Items returns a copy of the elements in insertion order.
func (s *orderedSet[T]) Items() []T { return slices.Clone(s.items) }

// queue is a FIFO backed by a slice.
type queue[T any] struct {
	items []T
	head  int
}

func (q *queue[T]) Push(v T) { q.items = append(q.items, v) }

func (q *queue[T]) Pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	}
	return v, true
}

func (q *queue[T]) Len() int { return len(q.items) - q.head }
