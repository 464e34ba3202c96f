package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/pool"
	"github.com/ValentinKolb/aibroker/lib/queue"
)

// State is the lifecycle state of an engine
type State int32

const (
	StateCreating State = iota
	StateReady
	StateDraining
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Engine is a loaded plugin instance together with the worker thread and the
// queue that serve it. Engines are created and destroyed by the Manager, one
// engine exists per (algorithm, version) and is shared by all transactions
// started on it.
type Engine struct {
	key     core.EngineKey
	plugin  plugin.IPlugin
	mode    plugin.InferMode
	thread  *pool.Thread
	queue   *queue.BoundedQueue[*Task]
	worker  *Worker
	sync    *SyncHandler
	async   *AsyncHandler
	stats   *stats
	created time.Time

	// number of transactions bound to the engine, changed under the key lock
	refs atomic.Int32

	// state is written under the write lock, submit and plugin calls hold the read lock
	mu    sync.RWMutex
	state State
}

// Key returns the (algorithm, version) the engine serves
func (e *Engine) Key() core.EngineKey {
	return e.key
}

// Mode returns the infer mode of the engine's plugin
func (e *Engine) Mode() plugin.InferMode {
	return e.mode
}

// RefCount returns the number of transactions bound to the engine
func (e *Engine) RefCount() int {
	return int(e.refs.Load())
}

// State returns the lifecycle state of the engine
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SyncHandler returns the handler of a SYNC engine.
// Returns core.ErrWrongInferMode for ASYNC engines.
func (e *Engine) SyncHandler() (*SyncHandler, error) {
	if e.sync == nil {
		return nil, fmt.Errorf("engine %s is %s: %w", e.key, e.mode, core.ErrWrongInferMode)
	}
	return e.sync, nil
}

// AsyncHandler returns the handler of an ASYNC engine.
// Returns core.ErrWrongInferMode for SYNC engines.
func (e *Engine) AsyncHandler() (*AsyncHandler, error) {
	if e.async == nil {
		return nil, fmt.Errorf("engine %s is %s: %w", e.key, e.mode, core.ErrWrongInferMode)
	}
	return e.async, nil
}

// Stats returns a snapshot of the engine
func (e *Engine) Stats() EngineStats {
	s := EngineStats{
		Key:      e.key,
		Mode:     e.mode,
		State:    e.State().String(),
		RefCount: e.RefCount(),
		ThreadID: e.thread.ID(),
		QueueLen: e.queue.Count(),
		QueueCap: e.queue.Cap(),
		Uptime:   time.Since(e.created),
	}
	e.stats.snapshot(&s)
	return s
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// submit enqueues a task. Fails with core.ErrEngineStopped once the engine
// is draining and with core.ErrQueueFull if the queue has no room.
func (e *Engine) submit(task *Task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return fmt.Errorf("engine %s is %s: %w", e.key, e.state, core.ErrEngineStopped)
	}

	task.enqueued = time.Now()
	if err := e.queue.PushBack(task); err != nil {
		e.stats.rejected.Inc(1)
		return fmt.Errorf("engine %s: %w", e.key, err)
	}
	e.stats.submitted.Inc(1)
	e.stats.payload.Update(int64(len(task.request.Payload)))
	return nil
}

// call runs fn against the plugin unless the engine is being torn down.
// fn runs under the read lock, so teardown waits for calls in flight. A panic in the plugin is returned as core.ErrPluginFailed.
func (e *Engine) call(op string, fn func(p plugin.IPlugin) error) (err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return fmt.Errorf("engine %s is %s: %w", e.key, e.state, core.ErrEngineStopped)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s of %s: %v: %w", op, e.key, r, core.ErrPluginFailed)
		}
	}()
	return fn(e.plugin)
}

// drain stops accepting tasks and returns every task still queued. The
// worker must be stopped before, so nothing else consumes the queue.
func (e *Engine) drain() []*Task {
	e.mu.Lock()
	e.state = StateDraining
	e.mu.Unlock()

	var left []*Task
	for {
		task, err := e.queue.PopFront()
		if err != nil {
			break
		}
		left = append(left, task)
	}
	return left
}

func (e *Engine) markReady() {
	e.mu.Lock()
	e.state = StateReady
	e.mu.Unlock()
}

func (e *Engine) markDestroyed() {
	e.mu.Lock()
	e.state = StateDestroyed
	e.mu.Unlock()
}
