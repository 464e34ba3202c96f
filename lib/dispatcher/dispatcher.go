package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/engine"
	"github.com/ValentinKolb/aibroker/lib/future"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/pool"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/multierr"
)

var Logger = logger.GetLogger("dispatcher")

// Config sizes the resources of a dispatcher
type Config struct {
	// MaxEngines bounds the number of engines alive at once (size of the thread and queue pools)
	MaxEngines int
	// QueueCapacity is the number of requests an engine queues before rejecting
	QueueCapacity int
	// FutureCapacity bounds the number of pending asynchronous requests over all engines
	FutureCapacity int
	// SyncTimeout bounds how long SyncExecute waits for a result, 0 waits forever
	SyncTimeout time.Duration
	// LockOSThread wires every engine worker to a dedicated OS thread
	LockOSThread bool
}

// DefaultConfig returns the configuration used when a value is left zero
func DefaultConfig() Config {
	return Config{
		MaxEngines:     64,
		QueueCapacity:  256,
		FutureCapacity: future.DefaultCapacity,
		SyncTimeout:    30 * time.Second,
	}
}

// Dispatcher is the entry point of the broker. It owns the thread pool, the
// queue pool, the future factory and the engine manager and routes every
// request to the engine its transaction is bound to.
type Dispatcher struct {
	config  Config
	loader  *plugin.Loader
	threads *pool.ThreadPool
	queues  *pool.QueuePool[*engine.Task]
	futures *future.Factory
	manager *engine.Manager
	metrics *dispatcherMetrics
}

// New creates a dispatcher loading plugins with loader. Zero values in config
// are replaced by their defaults, except SyncTimeout.
func New(config Config, loader *plugin.Loader) *Dispatcher {
	defaults := DefaultConfig()
	if config.MaxEngines <= 0 {
		config.MaxEngines = defaults.MaxEngines
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = defaults.QueueCapacity
	}
	if config.FutureCapacity <= 0 {
		config.FutureCapacity = defaults.FutureCapacity
	}

	d := &Dispatcher{
		config:  config,
		loader:  loader,
		threads: pool.NewThreadPool(config.MaxEngines),
		queues:  pool.NewQueuePool[*engine.Task](config.MaxEngines, config.QueueCapacity),
		futures: future.NewFactory(config.FutureCapacity),
	}
	d.threads.SetDefaultLockOSThread(config.LockOSThread)
	d.manager = engine.NewManager(loader, d.threads, d.queues, d.futures)
	d.metrics = newDispatcherMetrics(d)
	return d
}

// StartEngine binds txID to the engine of algo (docu see engine.Manager.StartEngine)
func (d *Dispatcher) StartEngine(txID uint64, algo core.AlgoInfo, input []byte) ([]byte, error) {
	out, err := d.manager.StartEngine(txID, algo, input)
	d.metrics.lifecycle("start", err)
	return out, err
}

// StopEngine releases txID from its engine (docu see engine.Manager.StopEngine)
func (d *Dispatcher) StopEngine(txID uint64, input []byte) error {
	err := d.manager.StopEngine(txID, input)
	d.metrics.lifecycle("stop", err)
	return err
}

// SyncExecute runs req on the engine of req.TransactionID and waits for the
// result, at most for the configured sync timeout.
// Returns core.ErrEngineNotFound if the transaction is not bound and
// core.ErrWrongInferMode if its engine is asynchronous.
func (d *Dispatcher) SyncExecute(ctx context.Context, req *core.Request) (*core.Response, error) {
	start := time.Now()
	resp, err := d.syncExecute(ctx, req)
	d.metrics.execute("sync", start, err)
	return resp, err
}

// AsyncExecute queues req on the engine of req.TransactionID and returns the
// sequence id the response will carry. The response is delivered to the
// listener registered for the transaction.
// Returns core.ErrEngineNotFound if the transaction is not bound and
// core.ErrWrongInferMode if its engine is synchronous.
func (d *Dispatcher) AsyncExecute(req *core.Request) (uint64, error) {
	start := time.Now()
	seq, err := d.asyncExecute(req)
	d.metrics.execute("async", start, err)
	return seq, err
}

// SetOption forwards an option to the plugin of the engine txID is bound to
func (d *Dispatcher) SetOption(txID uint64, optionType int32, input []byte) error {
	return notFound(d.manager.SetOption(txID, optionType, input))
}

// GetOption reads an option from the plugin of the engine txID is bound to
func (d *Dispatcher) GetOption(txID uint64, optionType int32, input []byte) ([]byte, error) {
	out, err := d.manager.GetOption(txID, optionType, input)
	return out, notFound(err)
}

// RegisterListener installs the receiver of the asynchronous replies of txID
func (d *Dispatcher) RegisterListener(txID uint64, listener future.IListener) error {
	return d.futures.RegisterListener(txID, listener)
}

// UnregisterListener removes the listener of txID. Replies that arrive
// afterwards are dropped. Returns false if none was registered.
func (d *Dispatcher) UnregisterListener(txID uint64) bool {
	return d.futures.UnregisterListener(txID)
}

// Stats returns a snapshot of every engine ordered by key
func (d *Dispatcher) Stats() []engine.EngineStats {
	return d.manager.Stats()
}

// Plugins returns the descriptors the loader knows
func (d *Dispatcher) Plugins() []plugin.Descriptor {
	return d.loader.Descriptors()
}

// Config returns the effective configuration
func (d *Dispatcher) Config() Config {
	return d.config
}

// Metrics returns the Prometheus metrics of the dispatcher
func (d *Dispatcher) Metrics() *metrics.Set {
	return d.metrics.set
}

// WritePrometheus writes the dispatcher metrics in Prometheus text format
func (d *Dispatcher) WritePrometheus(w io.Writer) {
	d.metrics.set.WritePrometheus(w)
}

// Close stops every bound transaction and drops pending futures and listeners
func (d *Dispatcher) Close() error {
	err := d.manager.Close()
	d.futures.Close()
	if n := d.threads.Busy(); n > 0 {
		err = multierr.Append(err, fmt.Errorf("%d engines still running after close", n))
	}
	if err != nil {
		Logger.Warningf("dispatcher closed with errors: %v", err)
	}
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (d *Dispatcher) syncExecute(ctx context.Context, req *core.Request) (*core.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request: %w", core.ErrInvalidArgument)
	}
	e, err := d.manager.Lookup(req.TransactionID)
	if err != nil {
		return nil, notFound(err)
	}
	h, err := e.SyncHandler()
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, req, d.config.SyncTimeout)
}

func (d *Dispatcher) asyncExecute(req *core.Request) (uint64, error) {
	if req == nil {
		return 0, fmt.Errorf("nil request: %w", core.ErrInvalidArgument)
	}
	e, err := d.manager.Lookup(req.TransactionID)
	if err != nil {
		return 0, notFound(err)
	}
	h, err := e.AsyncHandler()
	if err != nil {
		return 0, err
	}
	return h.SendRequest(req)
}

// notFound reports an unbound transaction as core.ErrEngineNotFound
func notFound(err error) error {
	if errors.Is(err, core.ErrNoSuchEngine) {
		return fmt.Errorf("%w: %w", core.ErrEngineNotFound, err)
	}
	return err
}
