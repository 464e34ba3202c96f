// Package pool provides bounded object pools for the resources every engine
// needs: a worker thread and a task queue. Pools are plain values that are
// constructed by the dispatcher and injected into the engine manager, there is
// no process wide instance.
//
// Key Components:
//
//   - Pool[T]: Generic busy/idle pool with a capacity. Pop hands out an idle
//     item or constructs a new one while the pool is below capacity and fails
//     with core.ErrPoolExhausted afterwards. Push runs the pool's reclaim hook
//     and makes the item idle again.
//
//   - Thread / ThreadPool: A Thread is a reusable handle for a single worker
//     goroutine (Start, Stop, Running). Threads pushed back to the pool are
//     stopped. SetDefaultLockOSThread changes how newly constructed threads run
//     their goroutine; threads that already exist are not affected.
//
//   - QueuePool[T]: Pool of queue.BoundedQueue[T] with a fixed queue capacity.
//     Queues are returned as-is, owners drain and Reset them first.
//
// Thread Safety:
//
//	All pool operations are safe for concurrent use. The reclaim hook runs
//	outside the pool lock.
package pool
