// Package queue provides the wake-on-push FIFO used to hand asynchronous
// occurrences (backend input, slow-client notices, client messages) to the
// compositor's single event loop.
//
// A Queue supports any number of producers but at most one suspended
// consumer. A second concurrent Pop replaces the first waiter, which then
// only returns once its context ends.
package queue

import (
	"context"
	"sync"
)

// Queue is a FIFO paired with a single waiter slot.
// The zero value is an empty queue ready to use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	waiter chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends v and wakes the waiter, if any.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	w := q.waiter
	q.waiter = nil
	q.mu.Unlock()

	if w != nil {
		close(w)
	}
}

// TryPop removes and returns the front element without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return v, true
}

// Pop returns the front element, suspending until one is pushed or ctx ends.
// It does not suspend when an element is already queued.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, nil
		}
		w := make(chan struct{})
		q.waiter = w
		q.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			q.mu.Lock()
			if q.waiter == w {
				q.waiter = nil
			}
			q.mu.Unlock()
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Clear drops every element and forgets the waiter without waking it.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	q.waiter = nil
	q.mu.Unlock()
}

// waiting reports whether a consumer is suspended in Pop.
func (q *Queue[T]) waiting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiter != nil
}
