// Package echo provides two builtin plugins that return their input: "echo"
// (synchronous) and "echo-async" (asynchronous, answers from its own goroutine).
// They are registered on import and serve as smoke tests for a running broker.
package echo

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/ValentinKolb/aibroker/lib/plugin"
)

const (
	// NameSync and NameAsync are the builtin names of the plugins
	NameSync  = "echo"
	NameAsync = "echo-async"

	// Version of both plugins
	Version int64 = 1
)

// Option types understood by both plugins
const (
	OptionPrefix int32 = 1 // bytes prepended to every result
	OptionDelay  int32 = 2 // processing delay, parsed with time.ParseDuration
)

// OperationFail makes a request fail, useful to exercise error paths
const OperationFail int32 = -1

func init() {
	plugin.RegisterBuiltin(NameSync, func() (plugin.IPlugin, error) { return New(plugin.InferModeSync), nil })
	plugin.RegisterBuiltin(NameAsync, func() (plugin.IPlugin, error) { return New(plugin.InferModeAsync), nil })
}

// Descriptors returns the loader table entries of both plugins
func Descriptors() []plugin.Descriptor {
	return []plugin.Descriptor{
		{AlgorithmID: NameSync, Version: Version, Kind: plugin.KindBuiltin, Path: NameSync},
		{AlgorithmID: NameAsync, Version: Version, Kind: plugin.KindBuiltin, Path: NameAsync},
	}
}

// Plugin echoes request payloads
type Plugin struct {
	mode plugin.InferMode

	mu       sync.Mutex
	prefix   []byte
	delay    time.Duration
	prepared map[uint64]struct{}
	wg       sync.WaitGroup
}

// New creates an echo plugin running in the given mode
func New(mode plugin.InferMode) *Plugin {
	return &Plugin{mode: mode, prepared: make(map[uint64]struct{})}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see plugin.IPlugin)
// --------------------------------------------------------------------------

func (p *Plugin) GetVersion() int64 {
	return Version
}

func (p *Plugin) GetName() string {
	if p.mode == plugin.InferModeAsync {
		return NameAsync
	}
	return NameSync
}

func (p *Plugin) GetInferMode() plugin.InferMode {
	return p.mode
}

func (p *Plugin) Prepare(transactionID uint64, input []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared[transactionID] = struct{}{}
	return input, nil
}

func (p *Plugin) SyncProcess(req *core.Request) (*core.Response, error) {
	if req.OperationID == OperationFail {
		return nil, fmt.Errorf("operation %d requested: %w", req.OperationID, core.ErrPluginFailed)
	}

	p.mu.Lock()
	prefix, delay := p.prefix, p.delay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	result := make([]byte, 0, len(prefix)+len(req.Payload))
	result = append(result, prefix...)
	result = append(result, req.Payload...)
	return core.NewResponse(req, result), nil
}

func (p *Plugin) AsyncProcess(req *core.Request, callback plugin.Callback) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		resp, err := p.SyncProcess(req)
		if err != nil {
			callback.OnEvent(plugin.EventError, core.NewErrorResponse(req, err))
			return
		}
		callback.OnEvent(plugin.EventResult, resp)
	}()
	return nil
}

func (p *Plugin) Release(isFullUnload bool, transactionID uint64, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prepared, transactionID)
	if isFullUnload {
		p.prefix, p.delay = nil, 0
	}
	return nil
}

func (p *Plugin) SetOption(optionType int32, input []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch optionType {
	case OptionPrefix:
		p.prefix = append([]byte(nil), input...)
	case OptionDelay:
		d, err := time.ParseDuration(string(input))
		if err != nil {
			return fmt.Errorf("invalid delay %q: %w", input, core.ErrInvalidArgument)
		}
		p.delay = d
	default:
		return fmt.Errorf("unknown option %d: %w", optionType, core.ErrInvalidArgument)
	}
	return nil
}

func (p *Plugin) GetOption(optionType int32, _ []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch optionType {
	case OptionPrefix:
		return append([]byte(nil), p.prefix...), nil
	case OptionDelay:
		return []byte(p.delay.String()), nil
	default:
		return nil, fmt.Errorf("unknown option %d: %w", optionType, core.ErrInvalidArgument)
	}
}

// Destroy waits for in-flight asynchronous requests (docu see plugin.Destroyer)
func (p *Plugin) Destroy() {
	p.wg.Wait()
}

// Prepared returns the number of transactions currently using the plugin
func (p *Plugin) Prepared() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prepared)
}
