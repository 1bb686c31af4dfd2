// Package cmd implements the command-line interface of mcmw, the memcached
// proxy. It provides commands for running the proxy and for talking to it as
// a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the proxy with the configuration from flags, environment
//     variables (MCMW_<flag>) and an optional config file
//   - mc: Client commands (get, gets, set, raw) and a load generator (perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mcmw -help for a list of all commands.
package cmd
