// Package cmd implements the command-line interface of aibroker, the
// on-device AI inference broker. It provides a hierarchical command structure
// with operations for running the broker and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the broker (dispatcher sizes, plugin table, metrics)
//   - infer: Runs synchronous and asynchronous requests, prints engine stats, benchmarks
//   - plugin: Lists the plugin table and checks that a plugin loads
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See aibroker -help for a list of all commands.
package cmd
