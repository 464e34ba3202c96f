// Package queue provides the two queue types of the broker: a bounded,
// non-blocking FIFO used as the task queue of every engine, and an unbounded
// lock-free multi-producer single-consumer queue used as the outbox of an RPC
// connection.
//
// Key Components:
//
//   - BoundedQueue[T]: Fixed capacity FIFO backed by a buffered channel.
//     PushBack fails with core.ErrQueueFull and PopFront with core.ErrQueueEmpty
//     instead of blocking. The consumer can block on Recv() (usually together
//     with a stop channel in a select statement), which removes the need to poll.
//
//   - LockFreeMPSC[T]: Unbounded queue built from a CAS linked list. Any number
//     of goroutines may Push concurrently, exactly one goroutine consumes via
//     Recv(). Under concurrent pushes the order between producers is decided by
//     which CAS succeeds first, the order of a single producer is preserved.
//
// Thread Safety:
//
//	BoundedQueue is safe for concurrent use. Count, IsEmpty and IsFull are
//	point in time values and may be stale when the caller acts on them.
//	LockFreeMPSC allows concurrent Push calls and a single consumer.
package queue
