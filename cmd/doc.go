// Package cmd implements the command-line interface for the qlock
// distributed lock manager. It provides a hierarchical command structure
// for running the server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - table: Commands for table administration (create, delete, list)
//   - lock: Commands for lock operations (acquire, release)
//   - serve: Commands for starting and configuring the qlock server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See qlock -help for a list of all commands.
package cmd
