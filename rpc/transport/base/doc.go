// Package base provides the foundation of the broker's stream transports,
// implementing client and server RPC communication independent of the
// concrete socket type (TCP, Unix sockets). Protocol specific packages only
// supply a connector.
//
// The package focuses on:
//   - A full duplex frame protocol with channel and requestID tracking
//   - Server push of asynchronous replies on the notify channel
//   - Performance optimization through connection pooling and buffer reuse
//   - Robust error handling with retries and reconnection logic
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different socket types.
//
//   - clientTransport: Core client implementation that manages multiple connections
//     with round-robin load balancing. Frames on the notify channel are handed
//     to the registered notify handler instead of a waiting request.
//
//   - serverTransport: Core server implementation that accepts connections,
//     runs up to maxWorkersPerConn handlers per connection and calls the close
//     handler once a connection is gone, so the owner can release what the
//     client left behind.
//
//   - serverConn: One accepted connection. Responses and pushed frames go
//     through a lock free MPSC outbox drained by a single writer goroutine.
//
// Frame Format:
//
//	channel (8 bytes) | requestID (8 bytes) | length (4 bytes) | payload
//
// Thread Safety:
//
//	All public methods are thread-safe. IConn.Push never blocks and may be
//	called from any goroutine, including plugin callbacks.
package base
