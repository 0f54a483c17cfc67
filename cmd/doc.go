// Package cmd implements the command-line interface of dRPC. It provides commands
// for running a provider and for calling it as a consumer.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a provider serving the echo service and publishing it in the registry
//   - echo: Calls the echo service (identity, upper, fail, sleep) and benchmarks it (bench)
//   - inspect: Sends heartbeats to providers (ping) and lists registered providers (discover)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can be set through the environment as DRPC_<FLAG>, .env and .env.local are loaded on startup.
// See drpc -help for a list of all commands.
package cmd
