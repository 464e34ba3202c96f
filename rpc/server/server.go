package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/dispatcher"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/plugin/echo"
	"github.com/ValentinKolb/aibroker/rpc/common"
	"github.com/ValentinKolb/aibroker/rpc/serializer"
	"github.com/ValentinKolb/aibroker/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters.
// The builtin plugins are always part of the plugin table.
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		*config,
//		unix.NewUnixDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		panic(err)
//	}
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) (*RPCServer, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	loader, err := plugin.NewLoader(append(echo.Descriptors(), config.Plugins...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin table: %w", err)
	}

	d := dispatcher.New(config.DispatcherConfig(), loader)

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		dispatcher: d,
		adapter:    NewBrokerServerAdapter(d, serializer),
	}, nil
}

// RPCServer exposes a dispatcher to remote clients
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	dispatcher *dispatcher.Dispatcher
	adapter    IRPCServerAdapter

	closeOnce   sync.Once
	mu          sync.Mutex
	metrics     *http.Server
	metricsAddr string
}

// Dispatcher returns the dispatcher requests are routed to
func (s *RPCServer) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// MetricsAddr returns the address the metrics endpoint listens on, empty
// while it is not serving
func (s *RPCServer) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Serve starts the metrics endpoint (if configured) and the transport layer.
// It blocks until Close is called or the transport fails.
func (s *RPCServer) Serve() error {
	if s.config.MetricsEndpoint != "" {
		if err := s.serveMetrics(); err != nil {
			return err
		}
	}

	s.registerTransportHandler()
	Logger.Infof("aibroker setup completed successfully")

	return s.transport.Listen(s.config)
}

// Close stops accepting clients, releases the engines of all clients and
// shuts the dispatcher down
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// closing the transport runs the disconnect handler of every client
		err = multierr.Append(err, s.transport.Close())

		s.mu.Lock()
		metrics := s.metrics
		s.mu.Unlock()
		if metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = multierr.Append(err, metrics.Shutdown(ctx))
			cancel()
		}

		err = multierr.Append(err, s.dispatcher.Close())
		Logger.Infof("RPC Server closed")
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(conn transport.IConn, channel uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		if channel != transport.ChannelCall {
			respMsg = common.NewErrorResponse(fmt.Errorf("channel %d does not accept requests: %w", channel, core.ErrInvalidArgument))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Errorf("failed to deserialize request: %w", err))
		} else {
			// Let the adapter handle the request
			respMsg = s.adapter.Handle(conn, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Errorf("failed to serialize response: %w", err)))
		}
		return val
	})

	s.transport.RegisterCloseHandler(s.adapter.Disconnect)
}

// serveMetrics exposes the Prometheus metrics and the pprof handlers
func (s *RPCServer) serveMetrics() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		s.dispatcher.WritePrometheus(w)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	listener, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics endpoint: %w", err)
	}

	metrics := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.metrics = metrics
	s.metricsAddr = listener.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := metrics.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()

	Logger.Infof("Serving metrics on http://%s/metrics", listener.Addr())
	return nil
}
