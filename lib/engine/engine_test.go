package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/future"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/pool"
	"github.com/ValentinKolb/aibroker/lib/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --------------------------------------------------------------------------
// Test Plugin
// --------------------------------------------------------------------------

// testPlugin records every call it receives. Process calls block while gate is open.
type testPlugin struct {
	mode       plugin.InferMode
	prepareErr error
	releaseErr error
	panicOn    string

	gate    chan struct{} // closed to let blocked calls through, nil means never block
	entered chan string   // receives the payload of every process call if set

	// Prepare of blockPrepare waits for prepareGate
	blockPrepare uint64
	prepareGate  chan struct{}

	mu       sync.Mutex
	order    []string
	releases []bool
	prepared []uint64
}

func (p *testPlugin) GetVersion() int64              { return 1 }
func (p *testPlugin) GetName() string                { return "test" }
func (p *testPlugin) GetInferMode() plugin.InferMode { return p.mode }
func (p *testPlugin) SetOption(int32, []byte) error  { return nil }
func (p *testPlugin) GetOption(t int32, _ []byte) ([]byte, error) {
	return []byte(fmt.Sprint(t)), nil
}

func (p *testPlugin) Prepare(txID uint64, input []byte) ([]byte, error) {
	if p.prepareGate != nil && txID == p.blockPrepare {
		<-p.prepareGate
	}
	if p.prepareErr != nil {
		return nil, p.prepareErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared = append(p.prepared, txID)
	return append([]byte("ready:"), input...), nil
}

func (p *testPlugin) Release(full bool, _ uint64, _ []byte) error {
	if p.releaseErr != nil {
		return p.releaseErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases = append(p.releases, full)
	return nil
}

func (p *testPlugin) handle(req *core.Request) *core.Response {
	payload := string(req.Payload)
	if p.entered != nil {
		p.entered <- payload
	}
	if p.gate != nil {
		<-p.gate
	}
	if payload == p.panicOn {
		panic("boom")
	}
	p.mu.Lock()
	p.order = append(p.order, payload)
	p.mu.Unlock()
	return core.NewResponse(req, []byte("out:"+payload))
}

func (p *testPlugin) SyncProcess(req *core.Request) (*core.Response, error) {
	return p.handle(req), nil
}

func (p *testPlugin) AsyncProcess(req *core.Request, callback plugin.Callback) error {
	callback.OnEvent(plugin.EventResult, p.handle(req))
	return nil
}

func (p *testPlugin) fullReleases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, full := range p.releases {
		if full {
			n++
		}
	}
	return n
}

// testLoader hands out the same plugin for every key and counts calls
type testLoader struct {
	plugin  *testPlugin
	loadErr error
	loads   atomic.Int32
	unloads atomic.Int32
}

func (l *testLoader) Load(string, int64) (plugin.IPlugin, error) {
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	l.loads.Add(1)
	return l.plugin, nil
}

func (l *testLoader) Unload(plugin.IPlugin) error {
	l.unloads.Add(1)
	return nil
}

type testEnv struct {
	manager *Manager
	loader  *testLoader
	threads *pool.ThreadPool
	queues  *pool.QueuePool[*Task]
	futures *future.Factory
}

func newTestEnv(t *testing.T, p *testPlugin, engines, queueCap int) *testEnv {
	env := &testEnv{
		loader:  &testLoader{plugin: p},
		threads: pool.NewThreadPool(engines),
		queues:  pool.NewQueuePool[*Task](engines, queueCap),
		futures: future.NewFactory(64),
	}
	env.manager = NewManager(env.loader, env.threads, env.queues, env.futures)
	t.Cleanup(func() {
		if p.gate != nil {
			select {
			case <-p.gate:
			default:
				close(p.gate)
			}
		}
		assert.NoError(t, env.manager.Close())
	})
	return env
}

var testAlgo = core.AlgoInfo{AlgorithmID: "test", Version: 1}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestStartEngineSharesOneEngine(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync}
	env := newTestEnv(t, p, 2, 8)

	const clients = 16
	var wg sync.WaitGroup
	wg.Add(clients)
	for i := 1; i <= clients; i++ {
		go func(tx uint64) {
			defer wg.Done()
			out, err := env.manager.StartEngine(tx, testAlgo, []byte("in"))
			assert.NoError(t, err)
			assert.Equal(t, []byte("ready:in"), out)
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.loader.loads.Load())
	assert.Equal(t, clients, env.manager.RefCount(testAlgo.Key()))
	assert.Len(t, env.manager.Engines(), 1)
	assert.Equal(t, 1, env.threads.Busy())

	wg.Add(clients)
	for i := 1; i <= clients; i++ {
		go func(tx uint64) {
			defer wg.Done()
			assert.NoError(t, env.manager.StopEngine(tx, nil))
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, p.fullReleases())
	require.Len(t, p.releases, clients)
	assert.True(t, p.releases[clients-1], "only the last release unloads the engine")
	assert.Equal(t, int32(1), env.loader.unloads.Load())
	assert.Empty(t, env.manager.Engines())
	assert.Equal(t, 0, env.threads.Busy())
	assert.Equal(t, 0, env.queues.Busy())
}

func TestSharedEngineReleaseOrder(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync}
	env := newTestEnv(t, p, 2, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)
	_, err = env.manager.StartEngine(2, testAlgo, nil)
	require.NoError(t, err)
	require.Equal(t, 2, env.manager.RefCount(testAlgo.Key()))

	require.NoError(t, env.manager.StopEngine(1, nil))
	assert.Equal(t, []bool{false}, p.releases)
	assert.Equal(t, 1, env.manager.RefCount(testAlgo.Key()))
	require.Len(t, env.manager.Engines(), 1)
	assert.Equal(t, int32(0), env.loader.unloads.Load())

	// the remaining transaction still runs on the engine
	_, err = env.manager.Lookup(2)
	require.NoError(t, err)

	require.NoError(t, env.manager.StopEngine(2, nil))
	assert.Equal(t, []bool{false, true}, p.releases)
	assert.Equal(t, 0, env.manager.RefCount(testAlgo.Key()))
	assert.Empty(t, env.manager.Engines())
	assert.Equal(t, int32(1), env.loader.unloads.Load())
}

func TestStartEngineAlreadyBound(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync}, 2, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)

	_, err = env.manager.StartEngine(1, core.AlgoInfo{AlgorithmID: "other", Version: 1}, nil)
	assert.ErrorIs(t, err, core.ErrAlreadyBound)
	assert.Len(t, env.manager.Engines(), 1)
}

func TestStopEngineUnknownTransaction(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync}, 1, 8)
	assert.ErrorIs(t, env.manager.StopEngine(99, nil), core.ErrNoSuchEngine)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)
	require.NoError(t, env.manager.StopEngine(1, nil))
	assert.ErrorIs(t, env.manager.StopEngine(1, nil), core.ErrNoSuchEngine)
}

func TestPrepareFailureDestroysNewEngine(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync, prepareErr: errors.New("bad model")}
	env := newTestEnv(t, p, 1, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	assert.ErrorContains(t, err, "bad model")

	assert.Empty(t, env.manager.Engines())
	assert.Empty(t, env.manager.Transactions())
	assert.Equal(t, int32(1), env.loader.unloads.Load())
	assert.Equal(t, 0, env.threads.Busy())
	assert.Equal(t, 0, env.queues.Busy())
}

func TestPrepareFailureKeepsSharedEngine(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync}
	env := newTestEnv(t, p, 1, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)

	p.prepareErr = errors.New("bad input")
	_, err = env.manager.StartEngine(2, testAlgo, nil)
	assert.Error(t, err)
	p.prepareErr = nil

	assert.Equal(t, 1, env.manager.RefCount(testAlgo.Key()))
	assert.Equal(t, int32(0), env.loader.unloads.Load())
	assert.Equal(t, []uint64{1}, env.manager.Transactions())
}

func TestReleaseFailureKeepsBinding(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync}
	env := newTestEnv(t, p, 1, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)

	p.releaseErr = errors.New("busy")
	assert.ErrorContains(t, env.manager.StopEngine(1, nil), "busy")
	assert.Equal(t, 1, env.manager.RefCount(testAlgo.Key()))
	assert.Equal(t, int32(0), env.loader.unloads.Load())

	p.releaseErr = nil
	require.NoError(t, env.manager.StopEngine(1, nil))
	assert.Equal(t, 0, env.manager.RefCount(testAlgo.Key()))
}

func TestLoadFailureReturnsResources(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync}, 1, 8)
	env.loader.loadErr = core.ErrPluginNotFound

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	assert.ErrorIs(t, err, core.ErrPluginNotFound)
	assert.Equal(t, 0, env.threads.Busy())
	assert.Equal(t, 0, env.queues.Busy())
}

func TestUnknownInferMode(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: "BATCH"}, 1, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	assert.ErrorIs(t, err, core.ErrWrongInferMode)
	assert.Equal(t, int32(1), env.loader.unloads.Load())
	assert.Equal(t, 0, env.threads.Busy())
}

func TestEnginePoolExhausted(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync}, 1, 8)

	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)
	_, err = env.manager.StartEngine(2, core.AlgoInfo{AlgorithmID: "other", Version: 1}, nil)
	assert.ErrorIs(t, err, core.ErrPoolExhausted)
}

func TestOptionsAndLookup(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync}, 1, 8)

	_, err := env.manager.GetOption(1, 3, nil)
	assert.ErrorIs(t, err, core.ErrNoSuchEngine)

	_, err = env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)
	require.NoError(t, env.manager.SetOption(1, 3, []byte("x")))
	out, err := env.manager.GetOption(1, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), out)

	e, err := env.manager.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, testAlgo.Key(), e.Key())
	assert.Equal(t, StateReady, e.State())
}

func TestEngineStates(t *testing.T) {
	tests := []struct {
		state State
		name  string
		open  bool
	}{
		{StateCreating, "creating", false},
		{StateReady, "ready", true},
		{StateDraining, "draining", false},
		{StateDestroyed, "destroyed", false},
		{State(42), "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())

			e := &Engine{
				key:    testAlgo.Key(),
				plugin: &testPlugin{mode: plugin.InferModeSync},
				queue:  queue.NewBoundedQueue[*Task](1),
				stats:  newStats(),
				state:  tt.state,
			}
			callErr := e.call("get option", func(p plugin.IPlugin) error {
				_, err := p.GetOption(1, nil)
				return err
			})
			submitErr := e.submit(&Task{request: &core.Request{}})
			if tt.open {
				assert.NoError(t, callErr)
				assert.NoError(t, submitErr)
				return
			}
			assert.ErrorIs(t, callErr, core.ErrEngineStopped)
			assert.ErrorIs(t, submitErr, core.ErrEngineStopped)
			assert.Zero(t, e.queue.Count())
		})
	}
}

func TestHungPrepareBlocksOnlyItsKey(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync, blockPrepare: 7, prepareGate: make(chan struct{})}
	env := newTestEnv(t, p, 2, 8)
	other := core.AlgoInfo{AlgorithmID: "other", Version: 1}

	hung := make(chan error, 1)
	go func() {
		_, err := env.manager.StartEngine(7, testAlgo, nil)
		hung <- err
	}()
	assert.Eventually(t, func() bool { return env.loader.loads.Load() == 1 }, time.Second, time.Millisecond)

	// another key starts while Prepare of the first one hangs
	_, err := env.manager.StartEngine(8, other, nil)
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		_, err := env.manager.StartEngine(9, testAlgo, nil)
		queued <- err
	}()
	select {
	case err := <-queued:
		t.Fatalf("start of the same key returned while Prepare hung: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(p.prepareGate)
	require.NoError(t, <-hung)
	require.NoError(t, <-queued)
	assert.Equal(t, 2, env.manager.RefCount(testAlgo.Key()))
	assert.Equal(t, 1, env.manager.RefCount(other.Key()))
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

func startSync(t *testing.T, env *testEnv) (*Engine, *SyncHandler) {
	_, err := env.manager.StartEngine(1, testAlgo, nil)
	require.NoError(t, err)
	e, err := env.manager.Lookup(1)
	require.NoError(t, err)
	h, err := e.SyncHandler()
	require.NoError(t, err)
	return e, h
}

func TestSyncExecute(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync}, 1, 8)
	e, h := startSync(t, env)

	resp, err := h.Execute(context.Background(), &core.Request{RequestID: 7, TransactionID: 1, Payload: []byte("a")}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.RequestID)
	assert.Equal(t, []byte("out:a"), resp.Result)

	_, err = e.AsyncHandler()
	assert.ErrorIs(t, err, core.ErrWrongInferMode)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, 1, stats.RefCount)
	// the worker counts the task after the caller was resolved
	assert.Eventually(t, func() bool { return e.Stats().Processed == 1 }, time.Second, time.Millisecond)
}

func TestQueueIsFIFO(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync, gate: make(chan struct{}), entered: make(chan string, 16)}
	env := newTestEnv(t, p, 1, 16)
	_, h := startSync(t, env)

	notifiers := make([]*Notifier, 0, 10)
	for i := 0; i < 10; i++ {
		n := NewNotifier()
		require.NoError(t, h.SendRequest(&core.Request{Payload: []byte(fmt.Sprint(i))}, n))
		notifiers = append(notifiers, n)
	}
	close(p.gate)

	for _, n := range notifiers {
		_, err := n.Wait(context.Background(), time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, p.order)
}

func TestQueueFull(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync, gate: make(chan struct{}), entered: make(chan string, 16)}
	env := newTestEnv(t, p, 1, 2)
	e, h := startSync(t, env)

	// the first task is taken by the worker, two more fill the queue
	require.NoError(t, h.SendRequest(&core.Request{Payload: []byte("0")}, NewNotifier()))
	<-p.entered
	require.NoError(t, h.SendRequest(&core.Request{Payload: []byte("1")}, NewNotifier()))
	require.NoError(t, h.SendRequest(&core.Request{Payload: []byte("2")}, NewNotifier()))

	err := h.SendRequest(&core.Request{Payload: []byte("3")}, NewNotifier())
	assert.ErrorIs(t, err, core.ErrQueueFull)
	assert.Equal(t, int64(1), e.Stats().Rejected)

	close(p.gate)
}

func TestSyncTimeout(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync, gate: make(chan struct{})}
	env := newTestEnv(t, p, 1, 8)
	e, h := startSync(t, env)

	_, err := h.Execute(context.Background(), &core.Request{Payload: []byte("slow")}, 20*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, int64(1), e.Stats().Timeouts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Execute(ctx, &core.Request{Payload: []byte("cancelled")}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrTimeout)

	// a passed deadline is a timeout like the one given to Execute
	deadline, cancelDeadline := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelDeadline()
	_, err = h.Execute(deadline, &core.Request{Payload: []byte("deadline")}, 0)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.CodeDeadlineExceeded, core.CodeOf(err))
	assert.Equal(t, int64(2), e.Stats().Timeouts)

	close(p.gate)
}

func TestWorkerRecoversPanic(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeSync, panicOn: "bad"}, 1, 8)
	_, h := startSync(t, env)

	_, err := h.Execute(context.Background(), &core.Request{Payload: []byte("bad")}, time.Second)
	assert.ErrorIs(t, err, core.ErrPluginFailed)

	// the worker survived
	resp, err := h.Execute(context.Background(), &core.Request{Payload: []byte("good")}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("out:good"), resp.Result)
}

func TestTeardownFailsQueuedTasks(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeSync, gate: make(chan struct{}), entered: make(chan string, 16)}
	env := newTestEnv(t, p, 1, 8)
	e, h := startSync(t, env)

	first := NewNotifier()
	require.NoError(t, h.SendRequest(&core.Request{Payload: []byte("0")}, first))
	<-p.entered
	queued := []*Notifier{NewNotifier(), NewNotifier()}
	for i, n := range queued {
		require.NoError(t, h.SendRequest(&core.Request{Payload: []byte(fmt.Sprint(i + 1))}, n))
	}

	stopped := make(chan error)
	go func() { stopped <- env.manager.StopEngine(1, nil) }()

	// let the stop reach the worker before the running task completes
	assert.Eventually(t, func() bool { return !e.thread.Running() }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(p.gate)
	require.NoError(t, <-stopped)

	_, err := first.Wait(context.Background(), time.Second)
	assert.NoError(t, err)
	for _, n := range queued {
		_, err := n.Wait(context.Background(), time.Second)
		assert.ErrorIs(t, err, core.ErrEngineStopped)
	}

	assert.Equal(t, StateDestroyed, e.State())
	assert.ErrorIs(t, h.SendRequest(&core.Request{}, NewNotifier()), core.ErrEngineStopped)
}

func TestAsyncExecute(t *testing.T) {
	env := newTestEnv(t, &testPlugin{mode: plugin.InferModeAsync}, 1, 8)

	_, err := env.manager.StartEngine(5, testAlgo, nil)
	require.NoError(t, err)
	e, err := env.manager.Lookup(5)
	require.NoError(t, err)

	_, err = e.SyncHandler()
	assert.ErrorIs(t, err, core.ErrWrongInferMode)
	h, err := e.AsyncHandler()
	require.NoError(t, err)

	replies := make(chan []byte, 1)
	require.NoError(t, env.futures.RegisterListener(5, future.ListenerFunc(func(f *future.Future) {
		assert.Equal(t, future.StatusOK, f.Status())
		replies <- f.Response().Result
	})))

	seq, err := h.SendRequest(&core.Request{TransactionID: 5, Payload: []byte("x")})
	require.NoError(t, err)
	assert.NotZero(t, seq)

	select {
	case result := <-replies:
		assert.Equal(t, []byte("out:x"), result)
	case <-time.After(time.Second):
		t.Fatal("no asynchronous reply")
	}
	assert.Eventually(t, func() bool { return env.futures.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestAsyncQueueFullReleasesFuture(t *testing.T) {
	p := &testPlugin{mode: plugin.InferModeAsync, gate: make(chan struct{}), entered: make(chan string, 16)}
	env := newTestEnv(t, p, 1, 1)

	_, err := env.manager.StartEngine(5, testAlgo, nil)
	require.NoError(t, err)
	e, _ := env.manager.Lookup(5)
	h, err := e.AsyncHandler()
	require.NoError(t, err)

	_, err = h.SendRequest(&core.Request{TransactionID: 5})
	require.NoError(t, err)
	<-p.entered
	_, err = h.SendRequest(&core.Request{TransactionID: 5})
	require.NoError(t, err)

	_, err = h.SendRequest(&core.Request{TransactionID: 5})
	assert.ErrorIs(t, err, core.ErrQueueFull)
	assert.Equal(t, 2, env.futures.Pending())

	close(p.gate)
}
