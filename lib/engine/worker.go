package engine

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/queue"
)

// Worker is the consumer loop of one engine. It runs on the engine's pooled
// thread, takes tasks from the engine's queue in FIFO order and hands each
// to the task's handler. It returns once the thread is stopped; tasks left in
// the queue are not touched.
type Worker struct {
	key   core.EngineKey
	queue *queue.BoundedQueue[*Task]
	stats *stats
}

// Run is the thread function of the worker
func (w *Worker) Run(stop <-chan struct{}) {
	Logger.Debugf("worker of %s started", w.key)
	defer Logger.Debugf("worker of %s stopped", w.key)

	for {
		// a stopped worker must not pick up another task
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case task := <-w.queue.Recv():
			w.run(task)
		}
	}
}

// run processes one task. A panicking plugin fails the task, the worker keeps running.
func (w *Worker) run(task *Task) {
	start := time.Now()
	w.stats.wait.Update(start.Sub(task.enqueued).Microseconds())

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("plugin of %s panicked: %v", w.key, r)
			w.stats.failed.Inc(1)
			task.handler.Abort(task, fmt.Errorf("panic in %s: %v: %w", w.key, r, core.ErrPluginFailed))
		}
		w.stats.processed.Inc(1)
		w.stats.process.Update(time.Since(start).Microseconds())
	}()

	task.handler.Process(task)
}
