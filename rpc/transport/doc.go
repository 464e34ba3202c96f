// Package transport defines the interfaces and abstractions for RPC communication
// between broker clients and the broker server. It provides a common contract
// that all transport implementations must fulfill.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Full duplex connections: request/response on the call channel and
//     server initiated frames on the notify channel
//   - Enabling multiple transport implementations (TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management, request sending and pushed frames.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to the registered handler.
//
//   - IConn: The server side handle of a client connection, used to push
//     asynchronous replies and to scope per client state.
package transport
