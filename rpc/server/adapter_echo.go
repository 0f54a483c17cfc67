package server

import (
	"github.com/ValentinKolb/dRPC/lib/echo"
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// NewEchoServiceDesc exposes impl as the echo service
func NewEchoServiceDesc(impl echo.IEcho) ServiceDesc {
	return ServiceDesc{
		Name:    echo.ServiceName,
		Version: common.DefaultServiceVersion,
		Methods: map[string]MethodHandler{
			"identity": Method(impl.Identity),
			"upper":    Method(impl.Upper),
			"fail":     Method(impl.Fail),
			"sleep":    Method(impl.Sleep),
		},
	}
}
