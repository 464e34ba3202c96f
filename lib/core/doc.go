// Package core provides the data types and the error taxonomy shared by every
// layer of the inference broker. It has no dependencies on the rest of the module
// and is imported by the plugin loader, the engine subsystem, the dispatcher and
// the RPC layer alike.
//
// The package focuses on:
//   - Request and Response envelopes that flow from a client to a plugin and back
//   - Algorithm identity (AlgoInfo) and the registry key derived from it (EngineKey)
//   - A small, code based error taxonomy that survives the trip over the wire
//
// Key Components:
//
//   - Request: An inference request. The TransactionID binds the request to the
//     engine a client started, the RequestID correlates an asynchronous result
//     with the future that waits for it.
//
//   - Response: The result produced by a plugin. A response is handed to exactly
//     one consumer (a waiting synchronous caller or an asynchronous listener).
//
//   - EngineKey: The (AlgorithmID, Version) pair that identifies a loaded plugin.
//     Keys are totally ordered, so registries can report engines deterministically.
//
//   - Error / Code: Typed errors with a Code (InvalidArgument, NotFound,
//     ResourceExhausted, OperationFailed, ConfigurationError, DeadlineExceeded).
//     Sentinel errors are wrapped with fmt.Errorf("...: %w", err) and can be
//     matched with errors.Is. CodeOf maps any error back onto a Code.
package core
