// Package tcp plugs TCP sockets into the protocol agnostic engines of the base package.
//
// Both connectors apply the socket options of common.TCPConf (TCP_NODELAY, keep-alive,
// linger and buffer sizes) to every connection after it is established.
//
// Usage:
//
//	srv := tcp.NewTCPServerTransport()
//	cli, err := tcp.NewTCPClientTransport(common.DefaultClientConfig())
package tcp
