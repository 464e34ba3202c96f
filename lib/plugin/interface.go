package plugin

import (
	"github.com/ValentinKolb/aibroker/lib/core"
)

// InferMode is the execution mode a plugin declares
type InferMode string

const (
	InferModeSync  InferMode = "SYNC"
	InferModeAsync InferMode = "ASYNC"
)

// Event is what an asynchronous plugin reports through its Callback
type Event int

const (
	EventResult Event = iota // The request completed, the response carries the result
	EventError               // The request failed, the response carries the error
)

func (e Event) String() string {
	switch e {
	case EventResult:
		return "result"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Callback receives the results of AsyncProcess. OnEvent may be called from any goroutine.
type Callback interface {
	OnEvent(event Event, resp *core.Response)
}

// IPlugin is the capability set every algorithm plugin implements.
// A plugin instance is owned by exactly one engine, which calls Prepare and
// Release once per transaction that starts and stops using it.
type IPlugin interface {
	// GetVersion returns the version of the algorithm implementation
	GetVersion() int64
	// GetName returns the algorithm id
	GetName() string
	// GetInferMode returns InferModeSync or InferModeAsync
	GetInferMode() InferMode

	// Prepare is called when a transaction starts using the plugin.
	// The returned bytes are passed back to the client.
	Prepare(transactionID uint64, input []byte) ([]byte, error)

	// SyncProcess runs a request and returns its result (SYNC plugins)
	SyncProcess(req *core.Request) (*core.Response, error)
	// AsyncProcess starts a request; the result is reported through callback (ASYNC plugins).
	// An error return means the request was not accepted.
	AsyncProcess(req *core.Request, callback Callback) error

	// Release is called when a transaction stops using the plugin.
	// isFullUnload is true for the last transaction, the plugin is destroyed afterwards.
	Release(isFullUnload bool, transactionID uint64, input []byte) error

	SetOption(optionType int32, input []byte) error
	GetOption(optionType int32, input []byte) ([]byte, error)
}

// Destroyer is implemented by plugins that hold resources beyond the last Release
type Destroyer interface {
	Destroy()
}

// Factory constructs a plugin instance
type Factory func() (IPlugin, error)

// FactorySymbol is the name of the factory every plugin library exports
const FactorySymbol = "NewPlugin"
