package client

import (
	"context"
	"github.com/ValentinKolb/dRPC/lib/echo"
)

// NewRPCEcho creates an echo.IEcho that calls the remote echo service through c
func NewRPCEcho(c *RPCClient) echo.IEcho {
	return &rpcEcho{client: c}
}

type rpcEcho struct {
	client *RPCClient
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the echo package in interface.go)
// --------------------------------------------------------------------------

func (e *rpcEcho) Identity(ctx context.Context, s string) (string, error) {
	return Call[string](ctx, e.client, echo.ServiceName, "identity", s)
}

func (e *rpcEcho) Upper(ctx context.Context, s string) (string, error) {
	return Call[string](ctx, e.client, echo.ServiceName, "upper", s)
}

func (e *rpcEcho) Fail(ctx context.Context, msg string) (string, error) {
	return Call[string](ctx, e.client, echo.ServiceName, "fail", msg)
}

func (e *rpcEcho) Sleep(ctx context.Context, ms int64) (int64, error) {
	return Call[int64](ctx, e.client, echo.ServiceName, "sleep", ms)
}
