// Package server implements the RPC server of the broker. It exposes a
// dispatcher to clients connected over one of the stream transports.
//
// The package focuses on:
//   - Mapping RPC messages onto dispatcher operations
//   - Pushing asynchronous replies to the connection that registered the listener
//   - Releasing engines and listeners of clients that disconnect
//   - Serving Prometheus metrics and pprof handlers on an optional endpoint
//
// Key Components:
//
//   - IRPCServerAdapter: Interface decoupling the RPC mechanics from the
//     broker logic, with Handle for requests and Disconnect for cleanup.
//
//   - NewBrokerServerAdapter: Factory creating the adapter over a
//     dispatcher. It keeps one session per connection holding the
//     transactions started and listeners registered over it.
//
//   - NewRPCServer: Factory creating a configured server with the specified
//     transport and serializer. The builtin plugins are always available,
//     further plugins come from the configured plugin table.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint:        "/tmp/aibroker.sock",
//	  MaxEngines:      16,
//	  SyncTimeout:     10 * time.Second,
//	  MetricsEndpoint: "127.0.0.1:9090",
//	}
//
//	s, err := server.NewRPCServer(
//	  config,
//	  unix.NewUnixDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	The server is thread-safe and handles concurrent requests across
//	multiple connections. Serve should be called only once, Close may be
//	called from any goroutine (e.g. a signal handler).
package server
