package client

import (
	"context"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/fault/retry"
	"github.com/ValentinKolb/dRPC/rpc/fault/tolerant"
	"github.com/ValentinKolb/dRPC/rpc/loadbalancer"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"time"
)

var Logger = logger.GetLogger("client")

// RPCClient is a service consumer. Every call runs through the same pipeline:
// discovery, load balancing, the retry strategy around one transport attempt and,
// once the retry strategy gave up, the fault tolerance strategy.
type RPCClient struct {
	config     common.ClientConfig
	registry   registry.IRegistry
	transport  transport.IRPCClientTransport
	balancer   loadbalancer.ILoadBalancer
	retry      retry.IRetryStrategy
	tolerant   tolerant.ITolerantStrategy
	serializer serializer.IRPCSerializer
	tracer     trace.Tracer
}

// NewRPCClient creates a new consumer.
// reg may be nil when config.Endpoints is set. s must be the serializer named in config.Serializer,
// the transport announces that one to the server.
func NewRPCClient(
	config common.ClientConfig,
	reg registry.IRegistry,
	transport transport.IRPCClientTransport,
	balancer loadbalancer.ILoadBalancer,
	retry retry.IRetryStrategy,
	tolerant tolerant.ITolerantStrategy,
	s serializer.IRPCSerializer,
) *RPCClient {
	Logger.Debugf(config.String())
	return &RPCClient{
		config:     config,
		registry:   reg,
		transport:  transport,
		balancer:   balancer,
		retry:      retry,
		tolerant:   tolerant,
		serializer: s,
		tracer:     otel.Tracer("github.com/ValentinKolb/dRPC/rpc/client"),
	}
}

// Invoke calls method of service with args and returns the raw response.
// A failing remote handler is not an error here, it is reported in Response.Err.
// In mock mode an empty response is returned without any I/O.
func (c *RPCClient) Invoke(ctx context.Context, service, method string, args ...any) (resp *common.Response, err error) {
	if c.config.Mock {
		Logger.Debugf("mock call of %s.%s", service, method)
		return &common.Response{Message: "mock"}, nil
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, service+"/"+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "drpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		))
	defer func() {
		status := "ok"
		switch {
		case err != nil:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case resp != nil && resp.Failed():
			status = "failed"
			span.SetStatus(codes.Error, resp.Err)
		}
		span.End()
		metrics.GetOrCreateCounter(fmt.Sprintf(`drpc_client_requests_total{service=%q,method=%q,status=%q}`, service, method, status)).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`drpc_client_request_duration_seconds{service=%q}`, service)).UpdateDuration(start)
	}()

	req, err := c.newRequest(ctx, service, method, args)
	if err != nil {
		return nil, err
	}

	candidates, err := c.candidates(ctx, service)
	if err != nil {
		return nil, err
	}
	endpoint, ok := c.balancer.Select(map[string]any{loadbalancer.ParamMethodName: method}, candidates)
	if !ok {
		return nil, fmt.Errorf("%w: no endpoint for %s", common.ErrDiscovery, common.ServiceKey(service, c.config.ServiceVersion))
	}
	span.SetAttributes(attribute.String("net.peer.name", endpoint.ServiceAddress()))

	resp, err = c.retry.DoRetry(ctx, func() (*common.Response, error) {
		return c.transport.DoRequest(ctx, req, endpoint)
	})
	if err == nil {
		return resp, nil
	}

	Logger.Debugf("%s.%s at %s failed, handing over to the tolerant strategy: %v", service, method, endpoint.ServiceAddress(), err)
	return c.tolerant.DoTolerant(ctx, map[string]any{
		tolerant.CtxService:    service,
		tolerant.CtxMethod:     method,
		tolerant.CtxEndpoint:   endpoint,
		tolerant.CtxCandidates: candidates,
		tolerant.CtxRequest:    req,
	}, err)
}

// Reroute sends the failed request of tolerantCtx to the remaining candidates in order
// and returns the first response. It serves as the reroute function of the fail over strategy.
func (c *RPCClient) Reroute(ctx context.Context, tolerantCtx map[string]any, err error) (*common.Response, error) {
	req, _ := tolerantCtx[tolerant.CtxRequest].(*common.Request)
	failed, _ := tolerantCtx[tolerant.CtxEndpoint].(common.ServiceMetaInfo)
	candidates, _ := tolerantCtx[tolerant.CtxCandidates].([]common.ServiceMetaInfo)
	if req == nil {
		return nil, err
	}

	lastErr := err
	for _, candidate := range candidates {
		if candidate.ServiceAddress() == failed.ServiceAddress() {
			continue
		}
		resp, rerouteErr := c.transport.DoRequest(ctx, req, candidate)
		if rerouteErr == nil {
			Logger.Infof("%s.%s rerouted from %s to %s", req.ServiceName, req.MethodName, failed.ServiceAddress(), candidate.ServiceAddress())
			return resp, nil
		}
		lastErr = rerouteErr
	}
	return nil, lastErr
}

// Close releases all connections of the transport
func (c *RPCClient) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *RPCClient) newRequest(ctx context.Context, service, method string, args []any) (*common.Request, error) {
	req := &common.Request{
		ServiceName:        service,
		ServiceVersion:     c.config.ServiceVersion,
		MethodName:         method,
		ParameterTypeNames: make([]string, len(args)),
		Args:               make([][]byte, len(args)),
		Meta:               map[string]string{},
	}
	for i, arg := range args {
		data, err := c.serializer.Serialize(arg)
		if err != nil {
			return nil, err
		}
		req.Args[i] = data
		req.ParameterTypeNames[i] = fmt.Sprintf("%T", arg)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(req.Meta))
	return req, nil
}

// candidates returns the static endpoints if configured, otherwise the discovered ones.
// It fails with common.ErrDiscovery if there is none.
func (c *RPCClient) candidates(ctx context.Context, service string) ([]common.ServiceMetaInfo, error) {
	serviceKey := common.ServiceKey(service, c.config.ServiceVersion)

	if len(c.config.Endpoints) > 0 {
		candidates := make([]common.ServiceMetaInfo, 0, len(c.config.Endpoints))
		for _, address := range c.config.Endpoints {
			endpoint, err := common.ParseEndpoint(address, service, c.config.ServiceVersion)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid endpoint %q: %v", common.ErrDiscovery, address, err)
			}
			candidates = append(candidates, endpoint)
		}
		return candidates, nil
	}

	if c.registry == nil {
		return nil, fmt.Errorf("%w: neither endpoints nor a registry configured for %s", common.ErrDiscovery, serviceKey)
	}
	candidates, err := c.registry.ServiceDiscovery(ctx, serviceKey)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no endpoint registered for %s", common.ErrDiscovery, serviceKey)
	}
	return candidates, nil
}
