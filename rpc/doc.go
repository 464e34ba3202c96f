// Package rpc provides the remote procedure call framework of the broker. It
// acts as the communication layer between client applications and the broker
// process, locally over unix sockets or over TCP.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Full-duplex framed communication with pluggable implementations
//     (TCP, Unix sockets). Besides request/response it lets the server push
//     asynchronous replies to a connection.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: The client SDK. It starts engines, runs requests and delivers
//     pushed asynchronous replies to per session handlers.
//
//   - server: RPC server hosting a dispatcher. It maps messages onto dispatcher
//     operations and releases the engines of clients that disconnect.
package rpc
