package transport

import (
	"context"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is called by a server transport for every decoded request.
// s is the serializer the request was encoded with, the response is encoded with the same one.
type ServerHandleFunc func(ctx context.Context, req *common.Request, s serializer.IRPCSerializer) *common.Response

// IRPCServerTransport is the interface for the server side of the transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler for all incoming requests, it must be called before Serve
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the listener, it does not block
	Listen(config common.ServerConfig) error
	// Serve accepts connections until Close is called, it returns nil after a Close
	Serve() error
	// Addr returns the bound address, nil before Listen
	Addr() net.Addr
	// Close stops accepting, waits for running handlers and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the client side of the transport layer.
// Connections are opened lazily per endpoint address and shared by all concurrent requests.
type IRPCClientTransport interface {
	// DoRequest sends req to endpoint and waits for the matching response.
	// Errors wrap common.ErrConnection, common.ErrTimeout, common.ErrProtocol or common.ErrSerialization.
	DoRequest(ctx context.Context, req *common.Request, endpoint common.ServiceMetaInfo) (*common.Response, error)
	// Ping sends a heartbeat frame to endpoint and returns the round trip time
	Ping(ctx context.Context, endpoint common.ServiceMetaInfo) (time.Duration, error)
	// Close closes all connections and fails all pending requests with common.ErrClosed
	Close() error
}
