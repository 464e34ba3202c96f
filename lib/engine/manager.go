package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/future"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/ValentinKolb/aibroker/lib/pool"
	"github.com/ValentinKolb/aibroker/lib/queue"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/multierr"
)

var Logger = logger.GetLogger("engine")

// ILoader loads and unloads plugin instances (implemented by plugin.Loader)
type ILoader interface {
	Load(algorithmID string, version int64) (plugin.IPlugin, error)
	Unload(p plugin.IPlugin) error
}

// Manager owns the engine registry. It maps every (algorithm, version) to at
// most one engine and every started transaction to the engine it is bound to.
//
// Start and stop of the same key are serialized by a per key lock, the
// registry lock is only held while the maps are read or written. Plugin calls
// never run under the registry lock.
//
// The key lock is held across the plugin's Prepare and Release. A plugin that
// hangs in one of them blocks every further start and stop of its key, other
// keys are not affected. SetOption and GetOption only take the engine's read
// lock and run concurrently with each other.
type Manager struct {
	loader  ILoader
	threads *pool.ThreadPool
	queues  *pool.QueuePool[*Task]
	futures *future.Factory

	mu       sync.RWMutex
	engines  map[core.EngineKey]*Engine
	clients  map[uint64]*Engine
	starting map[uint64]struct{}

	keyLocks *xsync.MapOf[core.EngineKey, *sync.Mutex]
	registry metrics.Registry
}

// NewManager creates an empty manager. Engines take their thread from threads
// and their queue from queues, asynchronous engines complete requests through futures.
func NewManager(loader ILoader, threads *pool.ThreadPool, queues *pool.QueuePool[*Task], futures *future.Factory) *Manager {
	return &Manager{
		loader:   loader,
		threads:  threads,
		queues:   queues,
		futures:  futures,
		engines:  make(map[core.EngineKey]*Engine),
		clients:  make(map[uint64]*Engine),
		starting: make(map[uint64]struct{}),
		keyLocks: xsync.NewMapOf[core.EngineKey, *sync.Mutex](),
		registry: metrics.NewRegistry(),
	}
}

// StartEngine binds txID to the engine of algo, creating and starting the
// engine if it does not exist yet, and prepares the plugin for the transaction.
// The output of the plugin's Prepare is returned.
//
// If Prepare fails nothing is registered and a freshly created engine is
// destroyed again. Returns core.ErrAlreadyBound if txID is bound to an engine.
func (m *Manager) StartEngine(txID uint64, algo core.AlgoInfo, input []byte) ([]byte, error) {
	if err := m.reserve(txID); err != nil {
		return nil, err
	}
	defer m.unreserve(txID)

	key := algo.Key()
	lock := m.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	e := m.engines[key]
	m.mu.RUnlock()

	created := false
	if e == nil {
		var err error
		if e, err = m.createEngine(key); err != nil {
			return nil, err
		}
		created = true
	}

	var out []byte
	err := e.call("prepare", func(p plugin.IPlugin) (err error) {
		out, err = p.Prepare(txID, input)
		return err
	})
	if err != nil {
		if created {
			m.destroyEngine(e)
		}
		return nil, fmt.Errorf("prepare %s for transaction %d: %w", key, txID, err)
	}

	e.refs.Add(1)
	m.mu.Lock()
	if created {
		m.engines[key] = e
	}
	m.clients[txID] = e
	m.mu.Unlock()

	if created {
		Logger.Infof("engine %s started (%s) for transaction %d", key, e.mode, txID)
	} else {
		Logger.Debugf("transaction %d bound to engine %s (%d refs)", txID, key, e.RefCount())
	}
	return out, nil
}

// StopEngine releases txID from its engine. The plugin's Release is told
// whether this is the last transaction of the engine; if so the engine is
// destroyed afterwards. If Release fails the binding is kept.
// Returns core.ErrNoSuchEngine if txID is not bound.
func (m *Manager) StopEngine(txID uint64, input []byte) error {
	e, err := m.Lookup(txID)
	if err != nil {
		return err
	}

	lock := m.keyLock(e.key)
	lock.Lock()
	defer lock.Unlock()

	// a concurrent stop of the same transaction may have won
	m.mu.RLock()
	bound := m.clients[txID] == e
	m.mu.RUnlock()
	if !bound {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNoSuchEngine)
	}

	full := e.refs.Load() == 1
	err = e.call("release", func(p plugin.IPlugin) error {
		return p.Release(full, txID, input)
	})
	if err != nil {
		return fmt.Errorf("release %s for transaction %d: %w", e.key, txID, err)
	}

	remaining := e.refs.Add(-1)
	m.mu.Lock()
	delete(m.clients, txID)
	if remaining == 0 {
		delete(m.engines, e.key)
	}
	m.mu.Unlock()

	if remaining == 0 {
		m.destroyEngine(e)
		Logger.Infof("engine %s stopped", e.key)
	}
	return nil
}

// SetOption forwards an option to the plugin of the engine txID is bound to
func (m *Manager) SetOption(txID uint64, optionType int32, input []byte) error {
	e, err := m.Lookup(txID)
	if err != nil {
		return err
	}
	return e.call("set option", func(p plugin.IPlugin) error {
		return p.SetOption(optionType, input)
	})
}

// GetOption reads an option from the plugin of the engine txID is bound to
func (m *Manager) GetOption(txID uint64, optionType int32, input []byte) ([]byte, error) {
	e, err := m.Lookup(txID)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = e.call("get option", func(p plugin.IPlugin) (err error) {
		out, err = p.GetOption(optionType, input)
		return err
	})
	return out, err
}

// Lookup returns the engine txID is bound to.
// Returns core.ErrNoSuchEngine if txID is not bound.
func (m *Manager) Lookup(txID uint64) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.clients[txID]
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", txID, core.ErrNoSuchEngine)
	}
	return e, nil
}

// Engine returns the engine of key if it exists
func (m *Manager) Engine(key core.EngineKey) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[key]
	return e, ok
}

// RefCount returns the number of transactions bound to the engine of key
func (m *Manager) RefCount(key core.EngineKey) int {
	if e, ok := m.Engine(key); ok {
		return e.RefCount()
	}
	return 0
}

// Engines returns all engines ordered by key
func (m *Manager) Engines() []*Engine {
	m.mu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.RUnlock()

	slices.SortFunc(engines, func(a, b *Engine) int { return a.key.Compare(b.key) })
	return engines
}

// Transactions returns the ids of all bound transactions in ascending order
func (m *Manager) Transactions() []uint64 {
	m.mu.RLock()
	txs := make([]uint64, 0, len(m.clients))
	for tx := range m.clients {
		txs = append(txs, tx)
	}
	m.mu.RUnlock()

	slices.Sort(txs)
	return txs
}

// Stats returns a snapshot of every engine ordered by key
func (m *Manager) Stats() []EngineStats {
	engines := m.Engines()
	stats := make([]EngineStats, len(engines))
	for i, e := range engines {
		stats[i] = e.Stats()
	}
	return stats
}

// Registry returns the metrics registry the engines register their stats in
func (m *Manager) Registry() metrics.Registry {
	return m.registry
}

// Close stops every bound transaction. Transactions whose release fails stay bound.
func (m *Manager) Close() error {
	var errs error
	for _, tx := range m.Transactions() {
		if err := m.StopEngine(tx, nil); err != nil && !errors.Is(err, core.ErrNoSuchEngine) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (m *Manager) keyLock(key core.EngineKey) *sync.Mutex {
	lock, _ := m.keyLocks.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	return lock
}

// reserve claims txID for a start in progress
func (m *Manager) reserve(txID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[txID]; ok {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrAlreadyBound)
	}
	if _, ok := m.starting[txID]; ok {
		return fmt.Errorf("transaction %d is starting: %w", txID, core.ErrAlreadyBound)
	}
	m.starting[txID] = struct{}{}
	return nil
}

func (m *Manager) unreserve(txID uint64) {
	m.mu.Lock()
	delete(m.starting, txID)
	m.mu.Unlock()
}

// createEngine assembles a running engine: thread, queue, plugin, handler and worker.
// Everything acquired is given back if a step fails.
func (m *Manager) createEngine(key core.EngineKey) (_ *Engine, err error) {
	thread, err := m.threads.Pop()
	if err != nil {
		return nil, fmt.Errorf("thread for %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			m.returnThread(key, thread)
		}
	}()

	q, err := m.queues.Pop()
	if err != nil {
		return nil, fmt.Errorf("queue for %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			m.returnQueue(key, q)
		}
	}()

	p, err := m.loader.Load(key.AlgorithmID, key.Version)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	e := &Engine{
		key:     key,
		plugin:  p,
		mode:    p.GetInferMode(),
		thread:  thread,
		queue:   q,
		stats:   newStats(),
		created: time.Now(),
		state:   StateCreating,
	}

	switch e.mode {
	case plugin.InferModeSync:
		e.sync = &SyncHandler{engine: e}
	case plugin.InferModeAsync:
		e.async = &AsyncHandler{engine: e, futures: m.futures}
	default:
		err = fmt.Errorf("plugin %s reports mode %q: %w", key, e.mode, core.ErrWrongInferMode)
	}

	if err == nil {
		e.worker = &Worker{key: key, queue: q, stats: e.stats}
		err = thread.Start(e.worker.Run)
	}

	if err != nil {
		if unloadErr := m.loader.Unload(p); unloadErr != nil {
			Logger.Warningf("failed to unload %s: %v", key, unloadErr)
		}
		return nil, err
	}

	e.markReady()
	e.stats.register(m.registry, key)
	return e, nil
}

// destroyEngine tears an engine down. The worker is stopped, tasks still
// queued fail with core.ErrEngineStopped, thread and queue go back to their
// pools and the plugin is unloaded.
func (m *Manager) destroyEngine(e *Engine) {
	// pushing the thread back stops the worker
	m.returnThread(e.key, e.thread)

	left := e.drain()
	for _, task := range left {
		task.handler.Abort(task, fmt.Errorf("engine %s: %w", e.key, core.ErrEngineStopped))
	}
	if len(left) > 0 {
		Logger.Warningf("engine %s failed %d queued tasks on teardown", e.key, len(left))
	}

	m.returnQueue(e.key, e.queue)

	if err := m.loader.Unload(e.plugin); err != nil {
		Logger.Errorf("failed to unload %s: %v", e.key, err)
	}
	e.stats.unregister(m.registry, e.key)
	e.markDestroyed()
}

func (m *Manager) returnThread(key core.EngineKey, thread *pool.Thread) {
	if err := m.threads.Push(thread); err != nil {
		Logger.Errorf("failed to return thread %d of %s: %v", thread.ID(), key, err)
	}
}

func (m *Manager) returnQueue(key core.EngineKey, q *queue.BoundedQueue[*Task]) {
	q.Reset()
	if err := m.queues.Push(q); err != nil {
		Logger.Errorf("failed to return queue of %s: %v", key, err)
	}
}
