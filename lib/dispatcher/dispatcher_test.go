package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/future"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/plugin/echo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	echoSync  = core.AlgoInfo{AlgorithmID: echo.NameSync, Version: echo.Version}
	echoAsync = core.AlgoInfo{AlgorithmID: echo.NameAsync, Version: echo.Version}
)

func newTestDispatcher(t *testing.T, config Config) *Dispatcher {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	loader, err := plugin.NewLoader(echo.Descriptors()...)
	require.NoError(t, err)
	d := New(config, loader)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

func TestSyncHappyPath(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	out, err := d.StartEngine(1, echoSync, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)

	resp, err := d.SyncExecute(context.Background(), &core.Request{RequestID: 3, TransactionID: 1, Payload: []byte("ping")})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), resp.RequestID)
	assert.Equal(t, []byte("ping"), resp.Result)
	assert.NoError(t, resp.Err())

	require.NoError(t, d.StopEngine(1, nil))
	assert.Empty(t, d.Stats())
}

func TestExecuteWithoutEngine(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.SyncExecute(context.Background(), &core.Request{TransactionID: 9})
	assert.ErrorIs(t, err, core.ErrEngineNotFound)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))

	_, err = d.AsyncExecute(&core.Request{TransactionID: 9})
	assert.ErrorIs(t, err, core.ErrEngineNotFound)

	assert.ErrorIs(t, d.SetOption(9, echo.OptionPrefix, nil), core.ErrEngineNotFound)
	assert.ErrorIs(t, d.StopEngine(9, nil), core.ErrNoSuchEngine)

	_, err = d.SyncExecute(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestWrongInferMode(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.StartEngine(1, echoSync, nil)
	require.NoError(t, err)
	_, err = d.StartEngine(2, echoAsync, nil)
	require.NoError(t, err)

	_, err = d.AsyncExecute(&core.Request{TransactionID: 1})
	assert.ErrorIs(t, err, core.ErrWrongInferMode)
	_, err = d.SyncExecute(context.Background(), &core.Request{TransactionID: 2})
	assert.ErrorIs(t, err, core.ErrWrongInferMode)
}

func TestUnknownPlugin(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.StartEngine(1, core.AlgoInfo{AlgorithmID: "echo", Version: 2}, nil)
	assert.ErrorIs(t, err, core.ErrPluginNotFound)
	assert.Empty(t, d.Stats())
}

func TestSharedEngineTeardown(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	for tx := uint64(1); tx <= 3; tx++ {
		_, err := d.StartEngine(tx, echoSync, nil)
		require.NoError(t, err)
	}
	require.Len(t, d.Stats(), 1)
	assert.Equal(t, 3, d.Stats()[0].RefCount)

	// options are per engine and shared by all transactions
	require.NoError(t, d.SetOption(1, echo.OptionPrefix, []byte(">")))
	out, err := d.GetOption(3, echo.OptionPrefix, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(">"), out)

	require.NoError(t, d.StopEngine(1, nil))
	require.NoError(t, d.StopEngine(2, nil))

	resp, err := d.SyncExecute(context.Background(), &core.Request{TransactionID: 3, Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, []byte(">x"), resp.Result)

	require.NoError(t, d.StopEngine(3, nil))
	assert.Empty(t, d.Stats())

	// a new engine starts without the options of the old one
	_, err = d.StartEngine(4, echoSync, nil)
	require.NoError(t, err)
	out, err = d.GetOption(4, echo.OptionPrefix, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSyncTimeout(t *testing.T) {
	config := DefaultConfig()
	config.SyncTimeout = 20 * time.Millisecond
	d := newTestDispatcher(t, config)

	_, err := d.StartEngine(1, echoSync, nil)
	require.NoError(t, err)
	require.NoError(t, d.SetOption(1, echo.OptionDelay, []byte("200ms")))

	_, err = d.SyncExecute(context.Background(), &core.Request{TransactionID: 1})
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, core.CodeDeadlineExceeded, core.CodeOf(err))
}

func TestAsyncDelivery(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.StartEngine(7, echoAsync, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	got := make(map[uint64][]byte)
	done := make(chan struct{}, 10)
	require.NoError(t, d.RegisterListener(7, future.ListenerFunc(func(f *future.Future) {
		mu.Lock()
		got[f.SequenceID()] = f.Response().Result
		mu.Unlock()
		done <- struct{}{}
	})))

	want := make(map[uint64][]byte)
	for i := 0; i < 10; i++ {
		payload := []byte(fmt.Sprintf("req-%d", i))
		seq, err := d.AsyncExecute(&core.Request{TransactionID: 7, Payload: payload})
		require.NoError(t, err)
		want[seq] = payload
	}

	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("only %d of 10 replies delivered", i)
		}
	}
	mu.Lock()
	assert.Equal(t, want, got)
	mu.Unlock()
}

func TestAsyncDeliveryAfterListenerRemoval(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.StartEngine(7, echoAsync, nil)
	require.NoError(t, err)
	require.NoError(t, d.SetOption(7, echo.OptionDelay, []byte("30ms")))

	delivered := make(chan struct{}, 1)
	require.NoError(t, d.RegisterListener(7, future.ListenerFunc(func(*future.Future) {
		delivered <- struct{}{}
	})))

	_, err = d.AsyncExecute(&core.Request{TransactionID: 7, Payload: []byte("late")})
	require.NoError(t, err)
	assert.True(t, d.UnregisterListener(7))

	// the reply is dropped and its future is gone
	assert.Eventually(t, func() bool { return d.futures.Pending() == 0 }, time.Second, time.Millisecond)
	select {
	case <-delivered:
		t.Fatal("reply delivered to a removed listener")
	default:
	}
}

func TestAsyncPluginError(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.StartEngine(7, echoAsync, nil)
	require.NoError(t, err)

	replies := make(chan *future.Future, 1)
	require.NoError(t, d.RegisterListener(7, future.ListenerFunc(func(f *future.Future) {
		assert.Equal(t, future.StatusError, f.Status())
		assert.Equal(t, core.CodeOperationFailed, f.Response().RetCode)
		replies <- f
	})))

	_, err = d.AsyncExecute(&core.Request{TransactionID: 7, OperationID: echo.OperationFail})
	require.NoError(t, err)

	select {
	case <-replies:
	case <-time.After(time.Second):
		t.Fatal("no error reply")
	}
}

func TestEngineLimit(t *testing.T) {
	config := DefaultConfig()
	config.MaxEngines = 1
	d := newTestDispatcher(t, config)

	_, err := d.StartEngine(1, echoSync, nil)
	require.NoError(t, err)
	_, err = d.StartEngine(2, echoAsync, nil)
	assert.ErrorIs(t, err, core.ErrPoolExhausted)

	require.NoError(t, d.StopEngine(1, nil))
	_, err = d.StartEngine(2, echoAsync, nil)
	assert.NoError(t, err)
}

func TestCloseStopsEverything(t *testing.T) {
	loader, err := plugin.NewLoader(echo.Descriptors()...)
	require.NoError(t, err)
	d := New(DefaultConfig(), loader)

	for tx := uint64(1); tx <= 4; tx++ {
		algo := echoSync
		if tx%2 == 0 {
			algo = echoAsync
		}
		_, err := d.StartEngine(tx, algo, nil)
		require.NoError(t, err)
	}
	require.Len(t, d.Stats(), 2)

	require.NoError(t, d.Close())
	assert.Empty(t, d.Stats())
	goleak.VerifyNone(t)
}

func TestPrometheusMetrics(t *testing.T) {
	d := newTestDispatcher(t, DefaultConfig())

	_, err := d.StartEngine(1, echoSync, nil)
	require.NoError(t, err)
	_, err = d.SyncExecute(context.Background(), &core.Request{TransactionID: 1})
	require.NoError(t, err)
	_, err = d.SyncExecute(context.Background(), &core.Request{TransactionID: 2})
	require.Error(t, err)

	var buf bytes.Buffer
	d.WritePrometheus(&buf)
	out := buf.String()
	assert.Contains(t, out, `aibroker_engines 1`)
	assert.Contains(t, out, `aibroker_requests_total{mode="sync",code="ok"} 1`)
	assert.Contains(t, out, `aibroker_requests_total{mode="sync",code="not-found"} 1`)
	assert.Contains(t, out, `aibroker_engine_ops_total{op="start",code="ok"} 1`)
}
