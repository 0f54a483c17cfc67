package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/lib/echo"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/ValentinKolb/dRPC/rpc/registry/mocks"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func testServerConfig() common.ServerConfig {
	config := common.DefaultServerConfig()
	config.Port = 0
	return config
}

func startEchoServer(t *testing.T, reg registry.IRegistry) (*RPCServer, common.ServiceMetaInfo) {
	t.Helper()
	s := NewRPCServer(testServerConfig(), tcp.NewTCPServerTransport(), reg)
	require.NoError(t, s.RegisterService(NewEchoServiceDesc(echo.NewEcho())))
	require.NoError(t, s.RegisterService(ServiceDesc{
		Name: "Panic",
		Methods: map[string]MethodHandler{
			"now": NoArgMethod(func(context.Context) (string, error) { panic("boom") }),
		},
	}))
	require.NoError(t, s.Listen(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()
	t.Cleanup(func() {
		_ = s.Shutdown()
		assert.NoError(t, <-done)
	})

	endpoint, err := common.ParseEndpoint(s.Addr().String(), echo.ServiceName, "")
	require.NoError(t, err)
	return s, endpoint
}

func newTransport(t *testing.T) transport.IRPCClientTransport {
	cli, err := tcp.NewTCPClientTransport(common.DefaultClientConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func encode(t *testing.T, v any) []byte {
	s, err := serializer.ByKey(serializer.KeyJSON)
	require.NoError(t, err)
	data, err := s.Serialize(v)
	require.NoError(t, err)
	return data
}

func TestDispatch(t *testing.T) {
	_, endpoint := startEchoServer(t, nil)
	cli := newTransport(t)

	tests := []struct {
		name    string
		req     *common.Request
		data    []byte
		errPart string
	}{
		{
			name: "identity",
			req:  &common.Request{ServiceName: "Echo", MethodName: "identity", ParameterTypeNames: []string{"string"}, Args: [][]byte{encode(t, "yupi")}},
			data: encode(t, "yupi"),
		},
		{
			name: "upper without declared types",
			req:  &common.Request{ServiceName: "Echo", MethodName: "upper", Args: [][]byte{encode(t, "yupi")}},
			data: encode(t, "YUPI"),
		},
		{
			name:    "handler error",
			req:     &common.Request{ServiceName: "Echo", MethodName: "fail", Args: [][]byte{encode(t, "boom")}},
			errPart: "echo failure: boom",
		},
		{
			name:    "unknown service",
			req:     &common.Request{ServiceName: "Nope", MethodName: "identity"},
			errPart: "unknown service Nope:1.0",
		},
		{
			name:    "unknown version",
			req:     &common.Request{ServiceName: "Echo", ServiceVersion: "2.0", MethodName: "identity"},
			errPart: "unknown service Echo:2.0",
		},
		{
			name:    "unknown method",
			req:     &common.Request{ServiceName: "Echo", MethodName: "shout"},
			errPart: "unknown method",
		},
		{
			name:    "parameter type mismatch",
			req:     &common.Request{ServiceName: "Echo", MethodName: "identity", ParameterTypeNames: []string{"int64"}, Args: [][]byte{encode(t, 1)}},
			errPart: "expects [string]",
		},
		{
			name:    "argument count",
			req:     &common.Request{ServiceName: "Echo", MethodName: "identity"},
			errPart: "expected 1 arguments, got 0",
		},
		{
			name:    "undecodable argument",
			req:     &common.Request{ServiceName: "Echo", MethodName: "sleep", Args: [][]byte{encode(t, "soon")}},
			errPart: common.ErrSerialization.Error(),
		},
		{
			name:    "panic",
			req:     &common.Request{ServiceName: "Panic", MethodName: "now"},
			errPart: "panic: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := cli.DoRequest(context.Background(), tt.req, endpoint)
			require.NoError(t, err)
			if tt.errPart != "" {
				assert.Contains(t, resp.Err, tt.errPart)
				assert.Nil(t, resp.Data)
				return
			}
			assert.Empty(t, resp.Err)
			assert.Equal(t, tt.data, resp.Data)
			assert.Equal(t, "string", resp.DataTypeName)
		})
	}
}

func TestPublishesBoundAddress(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Init(common.RegistryConfig{Registry: registry.KeyMemory, LeaseTTLSecond: 30}))
	defer reg.Destroy()

	s, endpoint := startEchoServer(t, reg)
	require.NotZero(t, endpoint.ServicePort)

	metas, err := reg.ServiceDiscovery(context.Background(), common.ServiceKey(echo.ServiceName, ""))
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, endpoint.ServicePort, metas[0].ServicePort)
	assert.Equal(t, "127.0.0.1", metas[0].ServiceHost)

	// late registrations are published right away
	require.NoError(t, s.RegisterService(ServiceDesc{Name: "Late", Methods: map[string]MethodHandler{
		"now": NoArgMethod(func(context.Context) (int64, error) { return time.Now().Unix(), nil }),
	}}))
	metas, err = reg.ServiceDiscovery(context.Background(), common.ServiceKey("Late", ""))
	require.NoError(t, err)
	assert.Len(t, metas, 1)

	require.NoError(t, s.Shutdown())
	metas, err = reg.ServiceDiscovery(context.Background(), common.ServiceKey(echo.ServiceName, ""))
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestListenFailsWhenRegistryIsUnreachable(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := mocks.NewMockIRegistry(ctrl)
	reg.EXPECT().Register(gomock.Any(), gomock.Any()).Return(fmt.Errorf("%w: no etcd at 127.0.0.1:2379", common.ErrRegistration))

	s := NewRPCServer(testServerConfig(), tcp.NewTCPServerTransport(), reg)
	require.NoError(t, s.RegisterService(NewEchoServiceDesc(echo.NewEcho())))

	err := s.Listen(context.Background())
	assert.ErrorIs(t, err, common.ErrRegistration)
	// the transport was closed again, there is nothing to serve
	assert.NoError(t, s.Serve())
}

func TestRegisterServiceValidation(t *testing.T) {
	s := NewRPCServer(testServerConfig(), tcp.NewTCPServerTransport(), nil)

	assert.Error(t, s.RegisterService(ServiceDesc{}))
	assert.Error(t, s.RegisterService(ServiceDesc{Name: "Empty"}))
	require.NoError(t, s.RegisterService(NewEchoServiceDesc(echo.NewEcho())))
	assert.Error(t, s.RegisterService(NewEchoServiceDesc(echo.NewEcho())))
}

func TestSameParameterTypes(t *testing.T) {
	assert.True(t, sameParameterTypes([]string{"string"}, []string{"string"}))
	assert.True(t, sameParameterTypes([]string{"*echo.Req"}, []string{"echo.Req"}))
	assert.False(t, sameParameterTypes([]string{"string"}, []string{"int64"}))
	assert.False(t, sameParameterTypes([]string{"string"}, []string{}))
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "string", TypeName[string]())
	assert.Equal(t, "int64", TypeName[int64]())
	assert.Equal(t, "*common.Request", TypeName[*common.Request]())
	assert.Equal(t, "error", TypeName[error]())
}

// secondRegistrationFails accepts the first registration and rejects all later ones
type secondRegistrationFails struct {
	registry.IRegistry
	registrations int
}

func (r *secondRegistrationFails) Register(ctx context.Context, meta common.ServiceMetaInfo) error {
	r.registrations++
	if r.registrations > 1 {
		return fmt.Errorf("%w: boom", common.ErrRegistration)
	}
	return r.IRegistry.Register(ctx, meta)
}

func TestFailedListenWithdrawsPublishedServices(t *testing.T) {
	mem := registry.NewMemoryRegistry()
	require.NoError(t, mem.Init(common.RegistryConfig{Registry: registry.KeyMemory, LeaseTTLSecond: 30}))
	defer mem.Destroy()
	reg := &secondRegistrationFails{IRegistry: mem}

	s := NewRPCServer(testServerConfig(), tcp.NewTCPServerTransport(), reg)
	require.NoError(t, s.RegisterService(NewEchoServiceDesc(echo.NewEcho())))
	require.NoError(t, s.RegisterService(ServiceDesc{Name: "Clock", Methods: map[string]MethodHandler{
		"now": NoArgMethod(func(context.Context) (int64, error) { return time.Now().Unix(), nil }),
	}}))

	err := s.Listen(context.Background())
	require.ErrorIs(t, err, common.ErrRegistration)
	assert.Equal(t, 2, reg.registrations)

	for _, name := range []string{echo.ServiceName, "Clock"} {
		metas, err := mem.ServiceDiscovery(context.Background(), common.ServiceKey(name, ""))
		require.NoError(t, err)
		assert.Empty(t, metas, name)
	}
}

func TestRegistryCallsUseTheRegistryTimeout(t *testing.T) {
	noDeadline := func(ctx context.Context, _ common.ServiceMetaInfo) error {
		_, ok := ctx.Deadline()
		assert.False(t, ok, "the registry applies its configured timeout")
		return nil
	}

	ctrl := gomock.NewController(t)
	reg := mocks.NewMockIRegistry(ctrl)
	reg.EXPECT().Register(gomock.Any(), gomock.Any()).DoAndReturn(noDeadline).Times(2)
	reg.EXPECT().Unregister(gomock.Any(), gomock.Any()).DoAndReturn(noDeadline).Times(2)
	reg.EXPECT().Heartbeat()

	s := NewRPCServer(testServerConfig(), tcp.NewTCPServerTransport(), reg)
	require.NoError(t, s.RegisterService(NewEchoServiceDesc(echo.NewEcho())))
	require.NoError(t, s.Listen(context.Background()))

	require.NoError(t, s.RegisterService(ServiceDesc{Name: "Late", Methods: map[string]MethodHandler{
		"now": NoArgMethod(func(context.Context) (int64, error) { return time.Now().Unix(), nil }),
	}}))
	require.NoError(t, s.Shutdown())
}
