// Package plugin defines the algorithm plugin contract and the loader that
// turns an (algorithm id, version) pair into a plugin instance.
//
// The package focuses on:
//   - The IPlugin capability set (prepare, sync/async processing, release, options)
//   - A static lookup table of Descriptors, usually read from the server config
//   - Opening plugin libraries of different kinds behind one ILibrary abstraction
//
// Key Components:
//
//   - IPlugin / Callback: The interface every algorithm implements. Asynchronous
//     plugins report results through a Callback, which may be invoked from any
//     goroutine.
//
//   - Loader: Resolve looks up the descriptor for a pair, Load opens the library,
//     resolves FactorySymbol and creates an instance, Unload destroys the instance
//     and closes the library. A failure in the middle of Load closes what was
//     opened. The loader never caches instances.
//
//   - Openers: builtin (factories registered with RegisterBuiltin, compiled into
//     the binary), native (Go plugins built with -buildmode=plugin exporting
//     NewPlugin), wasm (WebAssembly modules executed with wazero, see the aib_*
//     exports in wasm.go).
//
// Thread Safety:
//
//	The Loader is safe for concurrent use. Plugin instances are driven by a
//	single engine worker, only the Callback and option calls may arrive from
//	other goroutines.
package plugin
