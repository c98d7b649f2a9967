package batch

import "sync"

// Queue buffers payloads between the event source and the batch consumer.
// Push must never fail or block on the consumer.
type Queue[T any] interface {
	Push(item T)
	// Drain removes and returns up to max items
	Drain(max int) []T
	Len() int
}

// StackQueue is an unbounded Queue that drains from the tail: Drain(n)
// returns the n most recently pushed items, in push order.
type StackQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewStackQueue returns an empty StackQueue
func NewStackQueue[T any]() *StackQueue[T] {
	return &StackQueue[T]{}
}

// Push implements Queue
func (q *StackQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Drain implements Queue
func (q *StackQueue[T]) Drain(max int) []T {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	start := n - max
	if start < 0 {
		start = 0
	}

	out := make([]T, n-start)
	copy(out, q.items[start:])

	// release references held by the backing array
	var zero T
	for i := start; i < n; i++ {
		q.items[i] = zero
	}
	q.items = q.items[:start]
	if start == 0 {
		q.items = nil
	}
	return out
}

// Len implements Queue
func (q *StackQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
