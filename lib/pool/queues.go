package pool

import (
	"github.com/ValentinKolb/aibroker/lib/queue"
)

// QueuePool pools bounded queues of a fixed capacity. Queues are pushed back
// as they are, the caller drains and resets a queue before returning it.
type QueuePool[T any] struct {
	*Pool[*queue.BoundedQueue[T]]
	queueCapacity int
}

// NewQueuePool creates a pool of at most capacity queues, each holding
// queueCapacity elements
func NewQueuePool[T any](capacity, queueCapacity int) *QueuePool[T] {
	newQueue := func() *queue.BoundedQueue[T] {
		return queue.NewBoundedQueue[T](queueCapacity)
	}
	return &QueuePool[T]{
		Pool:          New(capacity, newQueue, nil),
		queueCapacity: queueCapacity,
	}
}

// QueueCapacity returns the capacity of the pooled queues
func (p *QueuePool[T]) QueueCapacity() int {
	return p.queueCapacity
}
