// Package rpc provides a lightweight framework for remote procedure calls over TCP.
// A consumer calls a method of a named service, a provider dispatches the call to the
// registered implementation and returns the result.
//
// The package is organized into several subpackages:
//
//   - common: Requests, responses, service descriptions, configuration structures,
//     the error taxonomy and logging.
//
//   - protocol: The binary frame format (17 byte header plus body) and the stream framer
//     that reassembles frames from a byte stream.
//
//   - serializer: Argument and body serialization with multiple format options (JSON, GOB, Binary).
//
//   - transport: Network communication contracts, the protocol agnostic client and server
//     engines (base) and their TCP connectors (tcp).
//
//   - loadbalancer, fault/retry, fault/tolerant: The pluggable strategies of the invocation
//     pipeline.
//
//   - registry: Service registration and discovery with etcd, ZooKeeper, redis or an
//     in-process store, including a locally cached view of the providers.
//
//   - plugin: Resolves strategy and backend implementations by string key.
//
//   - client: The consumer side, typed stubs and the invocation pipeline.
//
//   - server: The provider side, service dispatch tables and the provider lifecycle.
//
//   - bootstrap: Wires providers and consumers of a process from configuration.
package rpc
