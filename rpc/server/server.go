package server

import (
	"context"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"net"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("server")

// RPCServer is a service provider: it dispatches incoming requests to the registered services
// and publishes them in the registry while it is listening.
type RPCServer struct {
	config    common.ServerConfig
	transport transport.IRPCServerTransport
	registry  registry.IRegistry
	tracer    trace.Tracer

	services *xsync.MapOf[string, ServiceDesc]

	mu        sync.Mutex
	listening bool
	published []common.ServiceMetaInfo
}

// NewRPCServer creates a new RPC server.
// reg may be nil, the services are then reachable through static endpoints only.
//
// Usage:
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), reg)
//	_ = s.RegisterService(server.NewEchoServiceDesc(echo.NewEcho()))
//	if err := s.Listen(ctx); err != nil {
//		panic(err)
//	}
//	go s.Serve()
//	defer s.Shutdown()
func NewRPCServer(config common.ServerConfig, transport transport.IRPCServerTransport, reg registry.IRegistry) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Debugf(config.String())

	return &RPCServer{
		config:    config,
		transport: transport,
		registry:  reg,
		tracer:    otel.Tracer("github.com/ValentinKolb/dRPC/rpc/server"),
		services:  xsync.NewMapOf[string, ServiceDesc](),
	}
}

// RegisterService adds desc to the dispatch table.
// A service registered after Listen is published in the registry immediately.
func (s *RPCServer) RegisterService(desc ServiceDesc) error {
	if desc.Name == "" {
		return fmt.Errorf("service without name")
	}
	if len(desc.Methods) == 0 {
		return fmt.Errorf("service %s has no methods", desc.Name)
	}
	if desc.Version == "" {
		desc.Version = common.DefaultServiceVersion
	}

	key := common.ServiceKey(desc.Name, desc.Version)
	if _, loaded := s.services.LoadOrStore(key, desc); loaded {
		return fmt.Errorf("service %s is already registered", key)
	}
	Logger.Infof("registered service %s with %d methods", key, len(desc.Methods))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		// the registry bounds the call with its configured timeout
		return s.publish(context.Background(), desc)
	}
	return nil
}

// Listen binds the transport and publishes all registered services.
// It fails with common.ErrRegistration if the registry can not be reached, the server is not started then.
func (s *RPCServer) Listen(ctx context.Context) error {
	s.transport.RegisterHandler(s.handle)
	if err := s.transport.Listen(s.config); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	s.services.Range(func(_ string, desc ServiceDesc) bool {
		err = s.publish(ctx, desc)
		return err == nil
	})
	if err != nil {
		// nothing may point at the closed listener
		if uerr := s.unpublish(); uerr != nil {
			Logger.Errorf("failed to withdraw services after failed start: %v", uerr)
		}
		_ = s.transport.Close()
		return err
	}

	s.listening = true
	if s.registry != nil {
		s.registry.Heartbeat()
	}
	return nil
}

// Serve handles connections until Shutdown is called
func (s *RPCServer) Serve() error {
	return s.transport.Serve()
}

// Addr returns the address the server listens on, nil before Listen
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Shutdown removes the services from the registry, then stops the transport once all running requests are answered
func (s *RPCServer) Shutdown() error {
	s.mu.Lock()
	s.listening = false
	err := s.unpublish()
	s.mu.Unlock()

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	Logger.Infof("RPC Server stopped")
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// publish registers desc under the address the transport is bound to, s.mu must be held
func (s *RPCServer) publish(ctx context.Context, desc ServiceDesc) error {
	if s.registry == nil {
		return nil
	}
	meta, err := s.metaInfo(desc)
	if err != nil {
		return err
	}
	if err := s.registry.Register(ctx, meta); err != nil {
		return err
	}
	s.published = append(s.published, meta)
	Logger.Infof("published %s", meta.ServiceNodeKey())
	return nil
}

// metaInfo describes desc at the bound address, an unspecified host is advertised as loopback
func (s *RPCServer) metaInfo(desc ServiceDesc) (common.ServiceMetaInfo, error) {
	host, port := s.config.Host, s.config.Port
	if addr := s.transport.Addr(); addr != nil {
		h, p, err := net.SplitHostPort(addr.String())
		if err != nil {
			return common.ServiceMetaInfo{}, err
		}
		if port, err = strconv.Atoi(p); err != nil {
			return common.ServiceMetaInfo{}, err
		}
		if host == "" {
			host = h
		}
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		Logger.Warningf("listening on all interfaces, advertising %s as 127.0.0.1", desc.Name)
		host = "127.0.0.1"
	}
	return common.ServiceMetaInfo{ServiceName: desc.Name, ServiceVersion: desc.Version, ServiceHost: host, ServicePort: port}, nil
}

// unpublish removes every published service from the registry, s.mu must be held
func (s *RPCServer) unpublish() error {
	published := s.published
	s.published = nil
	if s.registry == nil {
		return nil
	}

	var result *multierror.Error
	for _, meta := range published {
		if err := s.registry.Unregister(context.Background(), meta); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// handle dispatches one request, every failure is returned as part of the response
func (s *RPCServer) handle(ctx context.Context, req *common.Request, ser serializer.IRPCSerializer) (resp *common.Response) {
	start := time.Now()
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(req.Meta))
	ctx, span := s.tracer.Start(ctx, req.ServiceName+"/"+req.MethodName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "drpc"),
			attribute.String("rpc.service", req.ServiceName),
			attribute.String("rpc.method", req.MethodName),
		))

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("panic in %s.%s: %v", req.ServiceName, req.MethodName, r)
			resp = common.NewErrorResponse(fmt.Errorf("%w: panic: %v", common.ErrInvocation, r))
		}
		status := "ok"
		if resp.Failed() {
			status = "error"
			span.SetStatus(codes.Error, resp.Err)
		}
		span.End()
		metrics.GetOrCreateCounter(fmt.Sprintf(`drpc_server_requests_total{service=%q,method=%q,status=%q}`, req.ServiceName, req.MethodName, status)).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`drpc_server_request_duration_seconds{service=%q}`, req.ServiceName)).UpdateDuration(start)
	}()

	key := common.ServiceKey(req.ServiceName, req.ServiceVersion)
	desc, ok := s.services.Load(key)
	if !ok {
		return common.NewErrorResponse(fmt.Errorf("%w: unknown service %s", common.ErrInvocation, key))
	}
	handler, ok := desc.Methods[req.MethodName]
	if !ok {
		return common.NewErrorResponse(fmt.Errorf("%w: unknown method %s.%s", common.ErrInvocation, key, req.MethodName))
	}
	if req.ParameterTypeNames != nil && !sameParameterTypes(handler.ParameterTypeNames(), req.ParameterTypeNames) {
		return common.NewErrorResponse(fmt.Errorf("%w: %s.%s expects %v, got %v",
			common.ErrInvocation, key, req.MethodName, handler.ParameterTypeNames(), req.ParameterTypeNames))
	}

	data, typeName, err := handler.Invoke(ctx, req.Args, ser)
	if err != nil {
		Logger.Debugf("%s.%s failed: %v", key, req.MethodName, err)
		return common.NewErrorResponse(err)
	}
	return common.NewSuccessResponse(data, typeName)
}
