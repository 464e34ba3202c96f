// Package dispatcher provides the facade clients of the broker talk to.
//
// A Dispatcher is constructed explicitly with a plugin.Loader and owns all
// execution resources: the thread pool and the queue pool that bound the
// number of engines, the future factory that completes asynchronous requests
// and the engine manager. Nothing is process global, several dispatchers can
// live side by side (e.g. in tests).
//
// Typical use:
//
//	loader, _ := plugin.NewLoader(echo.Descriptors()...)
//	d := dispatcher.New(dispatcher.DefaultConfig(), loader)
//	defer d.Close()
//
//	_, err := d.StartEngine(txID, core.AlgoInfo{AlgorithmID: "echo", Version: 1}, nil)
//	resp, err := d.SyncExecute(ctx, &core.Request{TransactionID: txID, Payload: in})
//	err = d.StopEngine(txID, nil)
//
// Requests address their engine by transaction id only. Executing on a
// transaction that was never started (or already stopped) fails with
// core.ErrEngineNotFound. Asynchronous results go to the listener registered
// for the transaction; without listener they are dropped.
//
// Request counters, latencies and pool gauges are exported as a
// VictoriaMetrics set (Metrics, WritePrometheus). Per engine statistics are
// returned by Stats.
package dispatcher
