package pool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Thread
// --------------------------------------------------------------------------

// Thread is a reusable handle for one long-running worker goroutine.
// A thread runs at most one function at a time; after Stop it can be started
// again with a new function.
type Thread struct {
	id           uint64
	lockOSThread bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// ID returns the id the pool assigned to the thread
func (t *Thread) ID() uint64 {
	return t.id
}

// LocksOSThread reports whether the worker goroutine is wired to its own OS thread
func (t *Thread) LocksOSThread() bool {
	return t.lockOSThread
}

// Start runs fn on a new goroutine. fn must return once stop is closed.
// Returns an error if the thread is already running.
func (t *Thread) Start(fn func(stop <-chan struct{})) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		return fmt.Errorf("thread %d is already running", t.id)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		if t.lockOSThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		fn(stop)
	}()

	return nil
}

// Stop signals the running function to return and waits until it did.
// Stop on a thread that is not running is a no-op.
func (t *Thread) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if done == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether a function is currently started on the thread
func (t *Thread) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done != nil
}

// --------------------------------------------------------------------------
// ThreadPool
// --------------------------------------------------------------------------

// ThreadPool pools Thread handles. A thread pushed back to the pool is stopped.
type ThreadPool struct {
	*Pool[*Thread]
	lockOSThread atomic.Bool
	nextID       atomic.Uint64
}

// NewThreadPool creates a pool of at most capacity threads
func NewThreadPool(capacity int) *ThreadPool {
	p := &ThreadPool{}
	p.Pool = New(capacity, p.newThread, func(t *Thread) { t.Stop() })
	return p
}

// SetDefaultLockOSThread sets whether threads constructed from now on wire
// their goroutine to a dedicated OS thread. Existing threads keep their setting.
func (p *ThreadPool) SetDefaultLockOSThread(lock bool) {
	p.lockOSThread.Store(lock)
}

func (p *ThreadPool) newThread() *Thread {
	return &Thread{
		id:           p.nextID.Add(1),
		lockOSThread: p.lockOSThread.Load(),
	}
}
