package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/plugin/echo"
	"github.com/ValentinKolb/aibroker/rpc/client"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/serializer"
	"github.com/ValentinKolb/aibroker/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	echoSync  = core.AlgoInfo{AlgorithmID: echo.NameSync, Version: echo.Version}
	echoAsync = core.AlgoInfo{AlgorithmID: echo.NameAsync, Version: echo.Version}
)

var testSerializers = map[string]func() serializer.IRPCSerializer{
	"JSON":   serializer.NewJSONSerializer,
	"GOB":    serializer.NewGOBSerializer,
	"Binary": serializer.NewBinarySerializer,
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startBroker serves a broker on a unix socket in a temp dir
func startBroker(t *testing.T, config common.ServerConfig, s serializer.IRPCSerializer) *RPCServer {
	t.Helper()

	config.Endpoint = filepath.Join(t.TempDir(), "aibroker.sock")
	if config.SyncTimeout == 0 {
		config.SyncTimeout = 5 * time.Second
	}

	srv, err := NewRPCServer(config, unix.NewUnixServerTransport(4096, 8), s)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, <-done)
	})
	return srv
}

// connect creates a client once the socket of srv accepts connections
func connect(t *testing.T, srv *RPCServer, s serializer.IRPCSerializer) *client.Client {
	t.Helper()
	return connectWithConfig(t, srv, s, common.ClientConfig{TimeoutSecond: 5})
}

// connectWithConfig is connect with a custom client config, the endpoint is set by it
func connectWithConfig(t *testing.T, srv *RPCServer, s serializer.IRPCSerializer, config common.ClientConfig) *client.Client {
	t.Helper()

	config.Endpoints = []string{srv.config.Endpoint}
	var c *client.Client
	require.Eventually(t, func() bool {
		var err error
		c, err = client.NewClient(config, unix.NewUnixClientTransport(), s)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return c
}

func TestSyncRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			srv := startBroker(t, common.ServerConfig{}, factory())
			c := connect(t, srv, factory())
			defer c.Close()

			session, out, err := c.StartEngine(echoSync, []byte("model"))
			require.NoError(t, err)
			assert.Equal(t, []byte("model"), out)

			require.NoError(t, session.SetOption(echo.OptionPrefix, []byte(">")))
			prefix, err := session.GetOption(echo.OptionPrefix, nil)
			require.NoError(t, err)
			assert.Equal(t, []byte(">"), prefix)

			resp, err := session.SyncExecute(&core.Request{RequestID: 7, Payload: []byte("ping")})
			require.NoError(t, err)
			assert.Equal(t, uint64(7), resp.RequestID)
			assert.Equal(t, session.TransactionID(), resp.TransactionID)
			assert.Equal(t, []byte(">ping"), resp.Result)

			stats, err := c.Stats()
			require.NoError(t, err)
			require.Len(t, stats, 1)
			assert.Equal(t, echoSync.Key(), stats[0].Key)
			assert.Equal(t, 1, stats[0].RefCount)

			// the worker counts a request after its caller was answered
			assert.Eventually(t, func() bool {
				stats, err := c.Stats()
				return err == nil && len(stats) == 1 && stats[0].Processed == 1
			}, 5*time.Second, 10*time.Millisecond)

			require.NoError(t, session.Stop(nil))
			assert.Empty(t, srv.Dispatcher().Stats())
		})
	}
}

func TestRemoteErrors(t *testing.T) {
	srv := startBroker(t, common.ServerConfig{}, serializer.NewBinarySerializer())
	c := connect(t, srv, serializer.NewBinarySerializer())
	defer c.Close()

	_, _, err := c.StartEngine(core.AlgoInfo{AlgorithmID: "missing", Version: 1}, nil)
	assert.ErrorIs(t, err, core.ErrPluginNotFound)

	session, _, err := c.StartEngine(echoSync, nil)
	require.NoError(t, err)

	_, err = session.AsyncExecute(&core.Request{})
	assert.ErrorIs(t, err, core.ErrWrongInferMode)
	assert.Equal(t, core.CodeConfigurationError, core.CodeOf(err))

	_, err = session.SyncExecute(&core.Request{OperationID: echo.OperationFail})
	assert.ErrorIs(t, err, core.ErrPluginFailed)

	require.NoError(t, session.Stop(nil))
	assert.ErrorIs(t, session.Stop(nil), core.ErrNoSuchEngine)

	_, err = session.SyncExecute(&core.Request{})
	assert.ErrorIs(t, err, core.ErrEngineNotFound)

	var coreErr *core.Error
	assert.True(t, errors.As(err, &coreErr))
}

func TestAsyncPush(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			srv := startBroker(t, common.ServerConfig{}, factory())
			c := connect(t, srv, factory())
			defer c.Close()

			session, _, err := c.StartEngine(echoAsync, nil)
			require.NoError(t, err)

			replies := make(chan *core.Response, 16)
			require.NoError(t, session.SetListener(func(resp *core.Response) {
				replies <- resp
			}))

			seqs := map[uint64]string{}
			for _, payload := range []string{"a", "b", "c"} {
				seq, err := session.AsyncExecute(&core.Request{Payload: []byte(payload)})
				require.NoError(t, err)
				assert.NotZero(t, seq)
				seqs[seq] = payload
			}

			for range seqs {
				select {
				case resp := <-replies:
					payload, ok := seqs[resp.RequestID]
					require.True(t, ok, "unexpected sequence id %d", resp.RequestID)
					assert.Equal(t, []byte(payload), resp.Result)
					assert.Equal(t, session.TransactionID(), resp.TransactionID)
					assert.NoError(t, resp.Err())
					delete(seqs, resp.RequestID)
				case <-time.After(5 * time.Second):
					t.Fatal("asynchronous reply was not pushed")
				}
			}

			// a failing request is pushed as an error reply
			_, err = session.AsyncExecute(&core.Request{OperationID: echo.OperationFail})
			require.NoError(t, err)
			select {
			case resp := <-replies:
				assert.ErrorIs(t, resp.Err(), core.ErrPluginFailed)
			case <-time.After(5 * time.Second):
				t.Fatal("error reply was not pushed")
			}

			require.NoError(t, session.Stop(nil))
		})
	}
}

func TestDisconnectReleasesEngines(t *testing.T) {
	s := serializer.NewBinarySerializer()
	srv := startBroker(t, common.ServerConfig{}, s)

	c := connect(t, srv, s)
	first, _, err := c.StartEngine(echoAsync, nil)
	require.NoError(t, err)
	require.NoError(t, first.SetListener(func(*core.Response) {}))
	_, _, err = c.StartEngine(echoAsync, nil)
	require.NoError(t, err)

	// a second client shares the engine and must keep it
	other := connect(t, srv, s)
	defer other.Close()
	kept, _, err := other.StartEngine(echoAsync, nil)
	require.NoError(t, err)

	stats := srv.Dispatcher().Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].RefCount)

	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		stats := srv.Dispatcher().Stats()
		return len(stats) == 1 && stats[0].RefCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, kept.Stop(nil))
	assert.Empty(t, srv.Dispatcher().Stats())
}

func TestMetricsEndpoint(t *testing.T) {
	s := serializer.NewBinarySerializer()
	srv := startBroker(t, common.ServerConfig{MetricsEndpoint: "127.0.0.1:0"}, s)
	c := connect(t, srv, s)
	defer c.Close()

	session, _, err := c.StartEngine(echoSync, nil)
	require.NoError(t, err)
	_, err = session.SyncExecute(&core.Request{Payload: []byte("x")})
	require.NoError(t, err)

	// the endpoint is up before the transport accepts clients
	addr := srv.MetricsAddr()
	require.NotEmpty(t, addr)

	httpTransport := &http.Transport{DisableKeepAlives: true}
	defer httpTransport.CloseIdleConnections()
	httpClient := &http.Client{Transport: httpTransport, Timeout: 5 * time.Second}

	resp, err := httpClient.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `aibroker_requests_total{mode="sync",code="ok"} 1`)
	assert.Contains(t, string(body), `aibroker_engines 1`)

	require.NoError(t, session.Stop(nil))
}

func TestClientTimeoutRunsRequestOnce(t *testing.T) {
	s := serializer.NewBinarySerializer()
	srv := startBroker(t, common.ServerConfig{}, s)
	c := connectWithConfig(t, srv, s, common.ClientConfig{TimeoutSecond: 1, RetryCount: 3})
	defer c.Close()

	session, _, err := c.StartEngine(echoSync, nil)
	require.NoError(t, err)
	require.NoError(t, session.SetOption(echo.OptionDelay, []byte("1500ms")))

	_, err = session.SyncExecute(&core.Request{Payload: []byte("slow")})
	assert.ErrorIs(t, err, core.ErrTimeout)

	// the engine finishes the request it received and no second one follows
	require.Eventually(t, func() bool {
		stats := srv.Dispatcher().Stats()
		return len(stats) == 1 && stats[0].Processed == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	stats := srv.Dispatcher().Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Submitted)
	assert.Equal(t, int64(1), stats[0].Processed)

	require.NoError(t, session.Stop(nil))
}
