package client

import (
	"context"
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// Call invokes method of service and decodes the result into Out.
// A remote failure is returned as *common.InvocationError. Responses without data
// (mock mode, fail safe) yield the zero value of Out.
func Call[Out any](ctx context.Context, c *RPCClient, service, method string, args ...any) (Out, error) {
	var out Out

	resp, err := c.Invoke(ctx, service, method, args...)
	if err != nil {
		return out, err
	}
	if resp != nil && resp.Failed() {
		return out, &common.InvocationError{Service: service, Method: method, Message: resp.Err}
	}
	if resp == nil || resp.Data == nil {
		return out, nil
	}

	if err := c.serializer.Deserialize(resp.Data, &out); err != nil {
		return out, err
	}
	return out, nil
}
