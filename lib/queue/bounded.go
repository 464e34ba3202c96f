package queue

import (
	"github.com/ValentinKolb/aibroker/lib/core"
)

// BoundedQueue is a fixed capacity FIFO queue backed by a buffered channel.
// PushBack and PopFront never block. The single consumer of the queue can
// instead block on Recv(), which is how an engine worker waits for tasks.
type BoundedQueue[T any] struct {
	ch chan T
}

// NewBoundedQueue creates a new queue holding at most capacity elements.
// A capacity below one is raised to one.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue[T]{ch: make(chan T, capacity)}
}

// PushBack appends v to the tail of the queue.
// Returns core.ErrQueueFull (and leaves the queue unchanged) if the queue is full.
func (q *BoundedQueue[T]) PushBack(v T) error {
	select {
	case q.ch <- v:
		return nil
	default:
		return core.ErrQueueFull
	}
}

// PopFront removes and returns the head of the queue.
// Returns core.ErrQueueEmpty if the queue is empty.
func (q *BoundedQueue[T]) PopFront() (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	default:
		var zero T
		return zero, core.ErrQueueEmpty
	}
}

// Recv returns the receive side of the queue for a blocking consumer.
// Elements received here are removed from the queue.
func (q *BoundedQueue[T]) Recv() <-chan T {
	return q.ch
}

// Count returns the number of queued elements (point in time)
func (q *BoundedQueue[T]) Count() int {
	return len(q.ch)
}

// Cap returns the capacity of the queue
func (q *BoundedQueue[T]) Cap() int {
	return cap(q.ch)
}

// IsEmpty reports whether the queue is empty (point in time)
func (q *BoundedQueue[T]) IsEmpty() bool {
	return len(q.ch) == 0
}

// IsFull reports whether the queue is full (point in time)
func (q *BoundedQueue[T]) IsFull() bool {
	return len(q.ch) == cap(q.ch)
}

// Reset discards all queued elements. No per element cleanup is performed,
// callers that own resources in the elements must drain the queue first.
func (q *BoundedQueue[T]) Reset() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
