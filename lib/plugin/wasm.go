package plugin

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Exports of a WebAssembly plugin module. memory, aib_alloc and aib_process
// are required, aib_prepare and aib_release are optional.
//
//	aib_alloc(size i32) -> ptr i32
//	aib_process(ptr i32, len i32) -> i64   result packed as ptr<<32 | len
//	aib_prepare(ptr i32, len i32) -> i64   same packing as aib_process
//	aib_release(full i32)
const (
	wasmExportAlloc   = "aib_alloc"
	wasmExportProcess = "aib_process"
	wasmExportPrepare = "aib_prepare"
	wasmExportRelease = "aib_release"
)

// --------------------------------------------------------------------------
// Opener / Library
// --------------------------------------------------------------------------

// wasmOpener compiles WebAssembly modules with wazero. Compiled code is
// shared between libraries through one compilation cache.
type wasmOpener struct {
	cache wazero.CompilationCache
}

func newWasmOpener() *wasmOpener {
	return &wasmOpener{cache: wazero.NewCompilationCache()}
}

func (o *wasmOpener) Open(desc Descriptor) (ILibrary, error) {
	ctx := context.Background()

	code, err := os.ReadFile(desc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module: %w", err)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(o.cache))

	// modules built by standard toolchains import wasi even if they never use it
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile module %q: %w", desc.Path, err)
	}

	for _, name := range []string{wasmExportAlloc, wasmExportProcess} {
		if _, ok := compiled.ExportedFunctions()[name]; !ok {
			_ = runtime.Close(ctx)
			return nil, fmt.Errorf("module %q does not export %s: %w", desc.Path, name, core.ErrInvalidArgument)
		}
	}

	return &wasmLibrary{desc: desc, runtime: runtime, compiled: compiled}, nil
}

type wasmLibrary struct {
	desc     Descriptor
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

func (l *wasmLibrary) Lookup(symbol string) (any, error) {
	if symbol != FactorySymbol {
		return nil, fmt.Errorf("wasm module %q has no symbol %s", l.desc.Path, symbol)
	}
	return Factory(l.newPlugin), nil
}

// Close closes the runtime together with every module instantiated in it
func (l *wasmLibrary) Close() error {
	return l.runtime.Close(context.Background())
}

func (l *wasmLibrary) newPlugin() (IPlugin, error) {
	ctx := context.Background()

	// anonymous instances, a library may be instantiated more than once
	mod, err := l.runtime.InstantiateModule(ctx, l.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module %q: %w", l.desc.Path, err)
	}
	if mod.Memory() == nil {
		_ = mod.Close(ctx)
		return nil, fmt.Errorf("module %q does not export memory: %w", l.desc.Path, core.ErrInvalidArgument)
	}

	mode := l.desc.Mode
	if mode == "" {
		mode = InferModeSync
	}

	return &wasmPlugin{
		desc:    l.desc,
		mode:    mode,
		mod:     mod,
		alloc:   mod.ExportedFunction(wasmExportAlloc),
		process: mod.ExportedFunction(wasmExportProcess),
		prepare: mod.ExportedFunction(wasmExportPrepare),
		release: mod.ExportedFunction(wasmExportRelease),
		options: xsync.NewMapOf[int32, []byte](),
	}, nil
}

// --------------------------------------------------------------------------
// Plugin
// --------------------------------------------------------------------------

// wasmPlugin adapts a module instance to IPlugin. Options are kept on the
// host side, the module only sees request payloads.
type wasmPlugin struct {
	desc Descriptor
	mode InferMode

	mu      sync.Mutex // a module instance executes one call at a time
	mod     api.Module
	alloc   api.Function
	process api.Function
	prepare api.Function
	release api.Function

	options *xsync.MapOf[int32, []byte]
}

// --------------------------------------------------------------------------
// Interface Methods (docu see plugin.IPlugin)
// --------------------------------------------------------------------------

func (p *wasmPlugin) GetVersion() int64 {
	return p.desc.Version
}

func (p *wasmPlugin) GetName() string {
	return p.desc.AlgorithmID
}

func (p *wasmPlugin) GetInferMode() InferMode {
	return p.mode
}

func (p *wasmPlugin) Prepare(_ uint64, input []byte) ([]byte, error) {
	if p.prepare == nil {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.call(p.prepare, input)
}

func (p *wasmPlugin) SyncProcess(req *core.Request) (*core.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.call(p.process, req.Payload)
	if err != nil {
		return nil, err
	}
	return core.NewResponse(req, out), nil
}

func (p *wasmPlugin) AsyncProcess(req *core.Request, callback Callback) error {
	go func() {
		resp, err := p.SyncProcess(req)
		if err != nil {
			callback.OnEvent(EventError, core.NewErrorResponse(req, err))
			return
		}
		callback.OnEvent(EventResult, resp)
	}()
	return nil
}

func (p *wasmPlugin) Release(isFullUnload bool, _ uint64, _ []byte) error {
	if p.release == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var full uint64
	if isFullUnload {
		full = 1
	}
	if _, err := p.release.Call(context.Background(), full); err != nil {
		return fmt.Errorf("%s: %v: %w", wasmExportRelease, err, core.ErrPluginFailed)
	}
	return nil
}

func (p *wasmPlugin) SetOption(optionType int32, input []byte) error {
	p.options.Store(optionType, append([]byte(nil), input...))
	return nil
}

func (p *wasmPlugin) GetOption(optionType int32, _ []byte) ([]byte, error) {
	value, ok := p.options.Load(optionType)
	if !ok {
		return nil, fmt.Errorf("option %d is not set: %w", optionType, core.ErrInvalidArgument)
	}
	return value, nil
}

// Destroy closes the module instance (docu see plugin.Destroyer)
func (p *wasmPlugin) Destroy() {
	_ = p.mod.Close(context.Background())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// call copies input into guest memory, invokes fn(ptr, len) and copies the
// packed (ptr, len) result back out. The caller holds p.mu.
func (p *wasmPlugin) call(fn api.Function, input []byte) ([]byte, error) {
	ctx := context.Background()
	mem := p.mod.Memory()

	res, err := p.alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", wasmExportAlloc, err, core.ErrPluginFailed)
	}
	ptr := uint32(res[0])

	if len(input) > 0 && !mem.Write(ptr, input) {
		return nil, fmt.Errorf("input of %d bytes does not fit at %d: %w", len(input), ptr, core.ErrPluginFailed)
	}

	res, err = fn.Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", fn.Definition().Name(), err, core.ErrPluginFailed)
	}

	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	if outLen == 0 {
		return []byte{}, nil
	}
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("result [%d, %d) out of memory range: %w", outPtr, outPtr+outLen, core.ErrPluginFailed)
	}
	// out aliases guest memory
	return append([]byte(nil), out...), nil
}
