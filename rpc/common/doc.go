// Package common provides the data structures shared by the RPC server,
// the client SDK and the transports of the broker.
//
// The package focuses on:
//   - Message protocol definition for client server communication
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with dragonboat's logger package
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. One flat
//     structure is used for every operation, the message type decides which
//     fields are meaningful. Factory methods create the requests and responses
//     of every operation and convert between messages and core.Request /
//     core.Response. Errors travel as RetCode plus message and are turned back
//     into *core.Error values on the client.
//
//   - MessageType: Enumeration of all operations: engine lifecycle,
//     synchronous and asynchronous execution, plugin options, listener
//     registration, statistics and the server pushed AsyncReply.
//
//   - ServerConfig: Endpoint, dispatcher sizing, plugin table, metrics
//     endpoint and log level of a server.
//
//   - ClientConfig: Endpoints, timeouts, retries and connection count of a client.
//
//   - Logger: Custom logging implementation that integrates with dragonboat's
//     logger package while providing consistent formatting across the application.
package common
