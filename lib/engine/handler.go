package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/future"
	"github.com/ValentinKolb/aibroker/lib/plugin"
)

// IHandler executes the tasks of an engine. Every engine has exactly one
// handler, chosen by the infer mode of its plugin.
type IHandler interface {
	// Process runs a task on the worker goroutine
	Process(task *Task)
	// Abort completes a task that will never be processed
	Abort(task *Task, err error)
}

// --------------------------------------------------------------------------
// SyncHandler
// --------------------------------------------------------------------------

// SyncHandler runs requests of SYNC plugins. The caller blocks on a Notifier
// until the worker resolved it.
type SyncHandler struct {
	engine *Engine
}

// SendRequest enqueues req. The result is delivered to notifier.
func (h *SyncHandler) SendRequest(req *core.Request, notifier *Notifier) error {
	return h.engine.submit(&Task{handler: h, request: req, notifier: notifier})
}

// ReceiveResponse waits for the result delivered to notifier.
// A timeout of zero waits without limit.
func (h *SyncHandler) ReceiveResponse(ctx context.Context, timeout time.Duration, notifier *Notifier) (*core.Response, error) {
	return notifier.Wait(ctx, timeout)
}

// Execute sends req and waits for its response
func (h *SyncHandler) Execute(ctx context.Context, req *core.Request, timeout time.Duration) (*core.Response, error) {
	notifier := NewNotifier()
	if err := h.SendRequest(req, notifier); err != nil {
		return nil, err
	}
	resp, err := h.ReceiveResponse(ctx, timeout, notifier)
	if errors.Is(err, core.ErrTimeout) {
		h.engine.stats.timeouts.Inc(1)
		return nil, fmt.Errorf("engine %s after %s: %w", h.engine.key, timeout, err)
	}
	return resp, err
}

func (h *SyncHandler) Process(task *Task) {
	resp, err := h.engine.plugin.SyncProcess(task.request)
	if err == nil && resp == nil {
		err = fmt.Errorf("no response from %s: %w", h.engine.key, core.ErrPluginFailed)
	}
	if err != nil {
		h.engine.stats.failed.Inc(1)
	}
	task.notifier.Resolve(resp, err)
}

func (h *SyncHandler) Abort(task *Task, err error) {
	task.notifier.Resolve(nil, err)
}

// --------------------------------------------------------------------------
// AsyncHandler
// --------------------------------------------------------------------------

// AsyncHandler runs requests of ASYNC plugins. Results are correlated by the
// future factory and delivered to the listener of the request's transaction.
// AsyncHandler is the plugin.Callback of its engine's plugin.
type AsyncHandler struct {
	engine  *Engine
	futures *future.Factory
}

// SendRequest creates a future for req and enqueues it. It returns the
// sequence id that the asynchronous response will carry. If the request
// cannot be enqueued the future is released again.
func (h *AsyncHandler) SendRequest(req *core.Request) (uint64, error) {
	seq, err := h.futures.CreateFuture(req)
	if err != nil {
		return 0, err
	}

	if err := h.engine.submit(&Task{handler: h, request: req}); err != nil {
		if releaseErr := h.futures.Release(seq); releaseErr != nil {
			Logger.Warningf("failed to release future %d: %v", seq, releaseErr)
		}
		return 0, err
	}
	return seq, nil
}

func (h *AsyncHandler) Process(task *Task) {
	if err := h.engine.plugin.AsyncProcess(task.request, h); err != nil {
		h.OnEvent(plugin.EventError, core.NewErrorResponse(task.request, err))
	}
}

func (h *AsyncHandler) Abort(task *Task, err error) {
	h.OnEvent(plugin.EventError, core.NewErrorResponse(task.request, err))
}

// OnEvent forwards a plugin result to the future factory (docu see plugin.Callback).
// Responses that cannot be delivered are logged and dropped.
func (h *AsyncHandler) OnEvent(event plugin.Event, resp *core.Response) {
	if event != plugin.EventResult {
		h.engine.stats.failed.Inc(1)
	}

	err := h.futures.ProcessResponse(event, resp)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNoListenerFound):
		Logger.Debugf("engine %s dropped %s response: %v", h.engine.key, event, err)
	default:
		Logger.Warningf("engine %s dropped %s response: %v", h.engine.key, event, err)
	}
}
