package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
)

// Task is one unit of work in an engine's queue. It is consumed exactly once,
// either by the worker or, at teardown, by the drain that aborts it.
type Task struct {
	handler  IHandler
	request  *core.Request
	notifier *Notifier // nil for asynchronous tasks
	enqueued time.Time
}

// Request returns the request carried by the task
func (t *Task) Request() *core.Request {
	return t.request
}

// --------------------------------------------------------------------------
// Notifier
// --------------------------------------------------------------------------

// Notifier is the blocking handle a synchronous caller waits on.
// The first Resolve wins, later calls are ignored.
type Notifier struct {
	once sync.Once
	done chan struct{}
	resp *core.Response
	err  error
}

// NewNotifier creates an unresolved notifier
func NewNotifier() *Notifier {
	return &Notifier{done: make(chan struct{})}
}

// Resolve completes the notifier with a response or an error
func (n *Notifier) Resolve(resp *core.Response, err error) {
	n.once.Do(func() {
		n.resp, n.err = resp, err
		close(n.done)
	})
}

// Done is closed once the notifier is resolved
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// Wait blocks until the notifier is resolved, ctx is done or timeout elapsed.
// A timeout of zero waits without limit. On timeout, or when the deadline of
// ctx passes, core.ErrTimeout is returned and a response that arrives later is discarded.
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) (*core.Response, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-n.done:
		return n.resp, n.err
	case <-timer:
		return nil, core.ErrTimeout
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", core.ErrTimeout, err)
		}
		return nil, err
	}
}
