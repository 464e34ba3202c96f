// Package unix implements the broker's RPC transport on Unix domain sockets,
// the default for clients on the same device as the broker.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting all core functionality like connection pooling,
// request routing, server push and error handling from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, an existing socket file
//     at the endpoint is replaced
//
// The default buffer size is 64 KB, sized for tensors and audio frames that
// typically cross the socket.
package unix
