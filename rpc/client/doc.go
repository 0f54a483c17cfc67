// Package client implements the consumer side of the RPC framework.
//
// An RPCClient runs every call through the same pipeline:
//
//	discovery -> load balancer -> retry strategy( transport attempt ) -> tolerant strategy
//
// Discovery uses the static endpoints of the configuration if present and the registry otherwise.
// An empty candidate list fails with common.ErrDiscovery before any connection is opened.
// The retry strategy only ever sees transport failures, a remote handler error is part of the
// response and is never retried.
//
// Typed access goes through Call or a typed stub such as NewRPCEcho:
//
//	c := client.NewRPCClient(config, reg, tcpTransport, lb, retry, tolerant, s)
//	defer c.Close()
//
//	e := client.NewRPCEcho(c)
//	out, err := e.Identity(ctx, "yupi")
//
// With ClientConfig.Mock set, stubs return zero values without any I/O.
//
// The client starts an OpenTelemetry span per call and propagates its context in Request.Meta.
// Calls are counted in drpc_client_requests_total{service,method,status}.
package client
