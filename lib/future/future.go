package future

import (
	"sync"

	"github.com/ValentinKolb/aibroker/lib/core"
)

// Status of a completed future
type Status int

const (
	StatusPending Status = iota // no response attached yet
	StatusOK                    // the plugin reported a result
	StatusError                 // the plugin reported an error
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Future is the placeholder for the response of one asynchronous request.
// It is created before the request is enqueued and deleted after its
// listener returned.
type Future struct {
	sequenceID    uint64
	transactionID uint64

	mu       sync.Mutex
	status   Status
	response *core.Response
}

// SequenceID returns the id that correlates the future with its response
func (f *Future) SequenceID() uint64 {
	return f.sequenceID
}

// TransactionID returns the transaction of the request the future waits for
func (f *Future) TransactionID() uint64 {
	return f.transactionID
}

// Status returns the completion status
func (f *Future) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Response returns the attached response, nil while pending
func (f *Future) Response() *core.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response
}

// attach sets status and response. Only the first call has an effect.
func (f *Future) attach(status Status, resp *core.Response) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != StatusPending {
		return false
	}
	f.status, f.response = status, resp
	return true
}

// detach removes the response from the future, ownership stays with the listener
func (f *Future) detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = nil
}

// --------------------------------------------------------------------------
// Listener
// --------------------------------------------------------------------------

// IListener receives completed futures of one transaction.
// The listener owns the response once OnReply is called; the future itself is
// deleted after OnReply returns and must not be retained.
type IListener interface {
	OnReply(f *Future)
}

// ListenerFunc adapts a function to IListener
type ListenerFunc func(f *Future)

func (fn ListenerFunc) OnReply(f *Future) {
	fn(f)
}
