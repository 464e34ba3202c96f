// Package future implements completion of asynchronous inference requests.
//
// A Future is created for every asynchronous request before the request is
// queued; its sequence id is stamped on the request and travels through the
// plugin into the response. When the plugin reports the result, the Factory
// looks up the future by sequence id, attaches the response and hands the
// future to the listener that is registered for the request's transaction.
// The listener takes ownership of the response, the future is deleted.
//
// Sequence ids are allocated in increasing order in [1, MaxSequence] and wrap
// around, skipping ids that are still pending. The number of pending futures
// is bounded by the factory's capacity.
//
// A response without a matching future is rejected (ErrNoMatchingFuture), a
// response for a transaction without listener is dropped (ErrNoListenerFound).
// Both are reported to the caller and are not fatal.
package future
