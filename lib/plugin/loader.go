package plugin

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("plugin")

// --------------------------------------------------------------------------
// Descriptors and libraries
// --------------------------------------------------------------------------

// Kind selects how a plugin library is opened
type Kind string

const (
	KindBuiltin Kind = "builtin" // factory registered in-process with RegisterBuiltin
	KindNative  Kind = "native"  // Go plugin (.so) exporting FactorySymbol
	KindWasm    Kind = "wasm"    // WebAssembly module implementing the aib_* exports
)

// Descriptor is one entry of the loader's lookup table
type Descriptor struct {
	AlgorithmID string    `mapstructure:"algorithm-id" json:"algorithm_id"`
	Version     int64     `mapstructure:"version" json:"version"`
	Kind        Kind      `mapstructure:"kind" json:"kind"`
	Path        string    `mapstructure:"path" json:"path"` // builtin name, .so path or .wasm path
	Mode        InferMode `mapstructure:"mode" json:"mode,omitempty"`
}

// Key returns the registry key of the descriptor
func (d Descriptor) Key() core.EngineKey {
	return core.EngineKey{AlgorithmID: d.AlgorithmID, Version: d.Version}
}

// ILibrary is an opened plugin library
type ILibrary interface {
	// Lookup resolves an exported symbol
	Lookup(symbol string) (any, error)
	// Close releases the library. Plugins created from it must be destroyed first.
	Close() error
}

// IOpener opens the libraries of one Kind
type IOpener interface {
	Open(desc Descriptor) (ILibrary, error)
}

// --------------------------------------------------------------------------
// Loader
// --------------------------------------------------------------------------

// Loader maps (algorithm id, version) to a plugin library and creates plugin
// instances from it. The loader does not cache: every Load opens the library
// and creates a new instance. Sharing instances is the engine manager's job.
type Loader struct {
	mu      sync.RWMutex
	table   map[core.EngineKey]Descriptor
	openers map[Kind]IOpener
}

// NewLoader creates a loader with the builtin, native and wasm openers and the given table
func NewLoader(descriptors ...Descriptor) (*Loader, error) {
	l := &Loader{
		table: make(map[core.EngineKey]Descriptor),
		openers: map[Kind]IOpener{
			KindBuiltin: builtinOpener{},
			KindNative:  nativeOpener{},
			KindWasm:    newWasmOpener(),
		},
	}
	for _, desc := range descriptors {
		if err := l.Register(desc); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Register adds or replaces a table entry
func (l *Loader) Register(desc Descriptor) error {
	if desc.AlgorithmID == "" {
		return fmt.Errorf("descriptor without algorithm id: %w", core.ErrInvalidArgument)
	}
	if desc.Kind == "" {
		desc.Kind = KindBuiltin
	}
	if desc.Kind == KindBuiltin && desc.Path == "" {
		desc.Path = desc.AlgorithmID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.openers[desc.Kind]; !ok {
		return fmt.Errorf("descriptor %s has unknown kind %q: %w", desc.Key(), desc.Kind, core.ErrInvalidArgument)
	}
	l.table[desc.Key()] = desc
	return nil
}

// RegisterOpener installs (or replaces) the opener for a kind
func (l *Loader) RegisterOpener(kind Kind, opener IOpener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openers[kind] = opener
}

// Resolve returns the table entry for an algorithm.
// Returns core.ErrPluginNotFound for unknown pairs.
func (l *Loader) Resolve(algorithmID string, version int64) (Descriptor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := core.EngineKey{AlgorithmID: algorithmID, Version: version}
	desc, ok := l.table[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%s: %w", key, core.ErrPluginNotFound)
	}
	return desc, nil
}

// Descriptors returns the lookup table sorted by key
func (l *Loader) Descriptors() []Descriptor {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Descriptor, 0, len(l.table))
	for _, desc := range l.table {
		result = append(result, desc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key().Less(result[j].Key()) })
	return result
}

// Load opens the library of an algorithm and creates a plugin instance.
// If any step fails, everything opened so far is closed again.
func (l *Loader) Load(algorithmID string, version int64) (IPlugin, error) {
	desc, err := l.Resolve(algorithmID, version)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	opener := l.openers[desc.Kind]
	l.mu.RUnlock()

	lib, err := opener.Open(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s library for %s: %w", desc.Kind, desc.Key(), err)
	}

	p, err := instantiate(lib)
	if err != nil {
		if closeErr := lib.Close(); closeErr != nil {
			Logger.Warningf("failed to close library of %s: %v", desc.Key(), closeErr)
		}
		return nil, fmt.Errorf("failed to create plugin %s: %w", desc.Key(), err)
	}

	Logger.Infof("loaded %s plugin %s from %q (mode %s)", desc.Kind, desc.Key(), desc.Path, p.GetInferMode())
	return &instance{IPlugin: p, lib: lib, desc: desc}, nil
}

// Unload destroys a plugin created by Load and closes its library
func (l *Loader) Unload(p IPlugin) error {
	inst, ok := p.(*instance)
	if !ok {
		return fmt.Errorf("plugin %T was not created by this loader: %w", p, core.ErrInvalidArgument)
	}
	if inst.unloaded.Swap(true) {
		return fmt.Errorf("plugin %s already unloaded: %w", inst.desc.Key(), core.ErrInvalidArgument)
	}

	if d, ok := inst.IPlugin.(Destroyer); ok {
		d.Destroy()
	}
	if err := inst.lib.Close(); err != nil {
		return fmt.Errorf("failed to close library of %s: %w", inst.desc.Key(), err)
	}

	Logger.Infof("unloaded plugin %s", inst.desc.Key())
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// instance ties a plugin to the library it was created from
type instance struct {
	IPlugin
	lib      ILibrary
	desc     Descriptor
	unloaded atomic.Bool
}

// instantiate resolves the factory symbol of a library and invokes it
func instantiate(lib ILibrary) (p IPlugin, err error) {
	sym, err := lib.Lookup(FactorySymbol)
	if err != nil {
		return nil, err
	}

	var factory Factory
	switch f := sym.(type) {
	case Factory:
		factory = f
	case *Factory:
		factory = *f
	case func() (IPlugin, error):
		factory = f
	case func() IPlugin:
		factory = func() (IPlugin, error) { return f(), nil }
	default:
		return nil, fmt.Errorf("symbol %s has unexpected type %T: %w", FactorySymbol, sym, core.ErrInvalidArgument)
	}

	// plugin code must not take the broker down
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("factory panicked: %v: %w", r, core.ErrPluginFailed)
		}
	}()

	p, err = factory()
	if err == nil && p == nil {
		err = fmt.Errorf("factory returned no plugin: %w", core.ErrPluginFailed)
	}
	return p, err
}
