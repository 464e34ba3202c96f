// Package tcp implements the broker's RPC transport on TCP sockets, used when
// clients reach the broker over a network (e.g. a host side tool talking to a
// device).
//
// This package builds on the base package's transport functionality, inheriting
// connection pooling, buffer reuse, request routing and server push. See the
// base package documentation for details on the frame protocol.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector,
//     connections use TCP_NODELAY and keep-alive
//
// The default server buffer size is 512 KB.
package tcp
