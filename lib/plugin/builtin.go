package plugin

import (
	"fmt"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/puzpuzpuz/xsync/v3"
)

// builtins holds the factories of plugins compiled into the binary
var builtins = xsync.NewMapOf[string, Factory]()

// RegisterBuiltin makes a factory available to descriptors of KindBuiltin
// under the given name. Packages usually call it from init().
func RegisterBuiltin(name string, factory Factory) {
	if factory == nil {
		panic("plugin: RegisterBuiltin factory is nil")
	}
	builtins.Store(name, factory)
}

// Builtins returns the names of all registered builtin plugins
func Builtins() []string {
	names := make([]string, 0, builtins.Size())
	builtins.Range(func(name string, _ Factory) bool {
		names = append(names, name)
		return true
	})
	return names
}

// builtinOpener opens libraries registered with RegisterBuiltin
type builtinOpener struct{}

func (builtinOpener) Open(desc Descriptor) (ILibrary, error) {
	factory, ok := builtins.Load(desc.Path)
	if !ok {
		return nil, fmt.Errorf("no builtin plugin named %q: %w", desc.Path, core.ErrPluginNotFound)
	}
	return &builtinLibrary{name: desc.Path, factory: factory}, nil
}

// builtinLibrary exports a single symbol, the factory
type builtinLibrary struct {
	name    string
	factory Factory
}

func (l *builtinLibrary) Lookup(symbol string) (any, error) {
	if symbol != FactorySymbol {
		return nil, fmt.Errorf("builtin %q has no symbol %s", l.name, symbol)
	}
	return l.factory, nil
}

func (l *builtinLibrary) Close() error {
	return nil
}
