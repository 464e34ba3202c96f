package future

import (
	"fmt"
	"math"
	"sync"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/plugin"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("future")

const (
	// MaxSequence is the largest sequence id, ids wrap around to 1 afterwards.
	// Sequence ids fit into 32 bits so they can be used as client side request ids.
	MaxSequence uint64 = math.MaxUint32

	// DefaultCapacity is the default number of futures that can be pending at once
	DefaultCapacity = 4096
)

// Factory creates futures for asynchronous requests, correlates responses
// with them and notifies the listener registered for the transaction.
type Factory struct {
	mu       sync.Mutex
	futures  map[uint64]*Future
	nextSeq  uint64
	maxSeq   uint64
	capacity int

	listeners *xsync.MapOf[uint64, IListener]
}

// NewFactory creates a factory allowing capacity pending futures
func NewFactory(capacity int) *Factory {
	return newFactory(capacity, MaxSequence)
}

func newFactory(capacity int, maxSeq uint64) *Factory {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if uint64(capacity) > maxSeq {
		capacity = int(maxSeq)
	}
	return &Factory{
		futures:   make(map[uint64]*Future, capacity),
		nextSeq:   1,
		maxSeq:    maxSeq,
		capacity:  capacity,
		listeners: xsync.NewMapOf[uint64, IListener](),
	}
}

// CreateFuture registers a future for req and stamps its sequence id on
// req.RequestID. Ids are allocated in increasing order, wrap around after
// MaxSequence and skip ids that are still in use.
// Returns core.ErrFutureTableFull if capacity futures are pending.
func (fac *Factory) CreateFuture(req *core.Request) (uint64, error) {
	fac.mu.Lock()
	defer fac.mu.Unlock()

	if len(fac.futures) >= fac.capacity {
		return 0, fmt.Errorf("%d futures pending: %w", len(fac.futures), core.ErrFutureTableFull)
	}

	// terminates because fewer than maxSeq ids are in use
	seq := fac.nextSeq
	for {
		if _, used := fac.futures[seq]; !used {
			break
		}
		seq = fac.advance(seq)
	}
	fac.nextSeq = fac.advance(seq)

	fac.futures[seq] = &Future{sequenceID: seq, transactionID: req.TransactionID}
	req.RequestID = seq
	return seq, nil
}

// ProcessResponse completes the future resp.RequestID refers to and hands
// it to the listener of the transaction.
//
// Returns core.ErrNoMatchingFuture if no future waits for the response
// (nothing is changed) and core.ErrNoListenerFound if the transaction has no
// listener. In the latter case the response is dropped, which is the normal
// outcome after a client unregistered.
func (fac *Factory) ProcessResponse(event plugin.Event, resp *core.Response) error {
	if resp == nil {
		return fmt.Errorf("nil response: %w", core.ErrInvalidArgument)
	}

	fac.mu.Lock()
	f, ok := fac.futures[resp.RequestID]
	if ok {
		delete(fac.futures, resp.RequestID)
	}
	fac.mu.Unlock()

	if !ok {
		return fmt.Errorf("sequence %d: %w", resp.RequestID, core.ErrNoMatchingFuture)
	}

	status := StatusOK
	if event != plugin.EventResult {
		status = StatusError
	}
	f.attach(status, resp)

	txID := resp.TransactionID
	if txID == 0 {
		txID = f.transactionID
	}

	listener, ok := fac.listeners.Load(txID)
	if !ok {
		f.detach()
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNoListenerFound)
	}

	listener.OnReply(f)
	f.detach()
	return nil
}

// Release deletes a pending future without notifying anybody
func (fac *Factory) Release(seq uint64) error {
	fac.mu.Lock()
	defer fac.mu.Unlock()

	if _, ok := fac.futures[seq]; !ok {
		return fmt.Errorf("sequence %d: %w", seq, core.ErrNoMatchingFuture)
	}
	delete(fac.futures, seq)
	return nil
}

// RegisterListener installs the listener of a transaction, replacing any previous one
func (fac *Factory) RegisterListener(transactionID uint64, listener IListener) error {
	if listener == nil {
		return fmt.Errorf("nil listener: %w", core.ErrInvalidArgument)
	}
	fac.listeners.Store(transactionID, listener)
	return nil
}

// UnregisterListener removes the listener of a transaction.
// Returns false if none was registered.
func (fac *Factory) UnregisterListener(transactionID uint64) bool {
	_, ok := fac.listeners.LoadAndDelete(transactionID)
	return ok
}

// HasListener reports whether a transaction has a listener
func (fac *Factory) HasListener(transactionID uint64) bool {
	_, ok := fac.listeners.Load(transactionID)
	return ok
}

// Pending returns the number of futures waiting for a response
func (fac *Factory) Pending() int {
	fac.mu.Lock()
	defer fac.mu.Unlock()
	return len(fac.futures)
}

// Capacity returns the maximum number of pending futures
func (fac *Factory) Capacity() int {
	return fac.capacity
}

// Close drops all pending futures and listeners
func (fac *Factory) Close() {
	fac.mu.Lock()
	dropped := len(fac.futures)
	fac.futures = make(map[uint64]*Future)
	fac.mu.Unlock()

	fac.listeners.Clear()

	if dropped > 0 {
		Logger.Warningf("dropped %d pending futures on close", dropped)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// advance returns the sequence id after seq, 0 is never used
func (fac *Factory) advance(seq uint64) uint64 {
	if seq >= fac.maxSeq {
		return 1
	}
	return seq + 1
}
