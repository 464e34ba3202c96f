package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded lock-free multi-producer single-consumer queue.
// Producers append to a linked list with CAS operations; a consumer goroutine
// owned by the queue moves the values into the channel returned by Recv().
//
// The RPC server uses it as the outbox of a connection: plugin callbacks
// running on arbitrary goroutines push asynchronous replies, a single writer
// goroutine drains them onto the socket.
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan T
	closed atomic.Bool
	length atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its consumer goroutine.
// The goroutine exits once the queue is closed and fully drained.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push appends a value. Returns false if the queue is closed.
// A value for which Push returned true is delivered by Recv() even if Close
// runs concurrently. Push is safe for concurrent use.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// a failing CAS means another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()

				// closed while linking, the consumer may already be gone
				return !q.closed.Load()
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin a little at low contention, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves values from the linked list into the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.out)

	var zero T
	for {
		drained := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			q.length.Add(-1)

			// release the reference for the gc
			next.value = zero
		}

		if !drained && q.closed.Load() {
			// values linked before close was observed are still delivered
			if q.head.Load().next.Load() == nil {
				return
			}
			continue
		}

		if !drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the consumer reads from. It is closed after
// Close() once all pending values have been delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close prevents further pushes. Values already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of values not yet received by the consumer
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.length.Load())
}
