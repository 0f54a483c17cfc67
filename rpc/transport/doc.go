// Package transport defines the contracts between the RPC core and the network layer.
//
// Key Components:
//
//   - IRPCClientTransport: sends a request to an endpoint and returns the correlated
//     response. Implementations keep one multiplexed connection per remote address.
//
//   - IRPCServerTransport: accepts connections, decodes request frames and passes them to
//     the registered ServerHandleFunc.
//
// The protocol agnostic engines live in the base package, the tcp package plugs TCP sockets
// into them.
package transport
