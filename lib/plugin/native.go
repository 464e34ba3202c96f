package plugin

import (
	"fmt"
	goplugin "plugin"
)

// nativeOpener opens Go plugins built with -buildmode=plugin
type nativeOpener struct{}

func (nativeOpener) Open(desc Descriptor) (ILibrary, error) {
	p, err := goplugin.Open(desc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", desc.Path, err)
	}
	return &nativeLibrary{path: desc.Path, plugin: p}, nil
}

type nativeLibrary struct {
	path   string
	plugin *goplugin.Plugin
}

func (l *nativeLibrary) Lookup(symbol string) (any, error) {
	sym, err := l.plugin.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", l.path, err)
	}
	return sym, nil
}

// Close is a no-op, the Go runtime never unloads a plugin once it is opened.
// Opening the same path again returns the already loaded plugin.
func (l *nativeLibrary) Close() error {
	return nil
}
