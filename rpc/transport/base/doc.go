// Package base implements the client and server engines of the RPC transport independent
// of the socket type. Protocol specific connectors (see package tcp) only dial, listen and
// tune sockets.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Keeps one multiplexed connection per remote address. Concurrent first
//     callers for an address share a single dial. Every request gets a unique id and a pending
//     entry that is registered before the frame is written; the read loop of the connection
//     completes it when the response with the same id arrives. A request completes exactly once:
//     by its response, by its timeout or by the failure of its connection.
//
//   - serverTransport: Accepts connections and runs a framer per connection. Every complete
//     frame is handled in its own goroutine, bounded by MaxWorkersPerConn, and the response
//     reuses the request id of the request.
//
// Connection eviction:
//
//	A pooled connection is evicted (removed, closed, pending requests failed) on a write
//	failure, a response timeout, a read failure or when the peer closes it. Removal is
//	identity checked, a replacement created in the meantime stays in the pool.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a connection are serialized by a mutex so
//	frames never interleave.
package base
