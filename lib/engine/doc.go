// Package engine implements the lifecycle and execution of inference engines.
//
// An Engine is one loaded plugin instance for an (algorithm, version) pair,
// served by a pooled worker thread that consumes a pooled bounded queue.
// Engines are shared: every transaction started on the same key is bound to
// the same engine, and the engine lives as long as at least one transaction
// is bound to it.
//
// The package focuses on:
//   - Lifecycle: Manager.StartEngine creates the engine on first use (thread,
//     queue, plugin, handler, worker) and prepares the plugin for the
//     transaction. Manager.StopEngine releases the transaction and destroys
//     the engine with the last one, telling the plugin it is a full unload.
//   - Execution: SyncHandler queues a request and blocks on a Notifier until
//     the worker resolved it or a timeout elapsed. AsyncHandler creates a future,
//     queues the request and lets the plugin report the result through a callback.
//   - Teardown: a destroyed engine rejects new tasks, fails the tasks left in
//     its queue with ErrEngineStopped and returns thread and queue to their pools.
//
// Key Components:
//   - Manager: registry of engines by key and of bindings by transaction id
//   - Engine: plugin, thread, queue, handler and statistics of one key
//   - Worker: FIFO consumer loop running on the engine's thread
//   - SyncHandler, AsyncHandler: the two execution strategies
//   - Task, Notifier: queued work and the handle synchronous callers wait on
//
// Thread Safety:
//
// All exported methods are safe for concurrent use. Start and stop of the
// same key are serialized, different keys proceed in parallel. Plugin calls
// are never made while the registry lock is held. Statistics are exported
// through a go-metrics registry.
package engine
