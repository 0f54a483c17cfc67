package bootstrap

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/client"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/fault/retry"
	"github.com/ValentinKolb/dRPC/rpc/fault/tolerant"
	"github.com/ValentinKolb/dRPC/rpc/loadbalancer"
	"github.com/ValentinKolb/dRPC/rpc/plugin"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/server"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var Logger = logger.GetLogger("bootstrap")

// Application is the explicit context shared by the providers and consumers of one process
type Application struct {
	Config   common.RegistryConfig
	Resolver *plugin.Resolver
	// Registry is nil when no registry is configured, consumers then need static endpoints
	Registry registry.IRegistry
}

// NewApplication resolves and connects the registry named in conf.Registry.
// An empty conf.Registry creates an application without registry.
func NewApplication(conf common.RegistryConfig) (*Application, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	app := &Application{Config: conf, Resolver: DefaultResolver()}
	if conf.Registry == "" {
		Logger.Infof("no registry configured, using static endpoints only")
		return app, nil
	}

	reg, err := resolveRegistry(app.Resolver, conf.Registry)
	if err != nil {
		return nil, err
	}
	if err := reg.Init(conf); err != nil {
		return nil, err
	}
	app.Registry = reg

	Logger.Infof("application ready")
	Logger.Debugf(conf.String())
	return app, nil
}

// NewProvider creates a TCP server publishing its services in the registry of the application
func (a *Application) NewProvider(config common.ServerConfig) *server.RPCServer {
	return server.NewRPCServer(config, tcp.NewTCPServerTransport(), a.Registry)
}

// NewConsumer creates a TCP client with the strategies named in config.
// Unknown strategy keys fall back to the defaults, an unknown serializer is an error.
func (a *Application) NewConsumer(config common.ClientConfig) (*client.RPCClient, error) {
	s, err := resolveSerializer(a.Resolver, config)
	if err != nil {
		return nil, err
	}

	tr, err := tcp.NewTCPClientTransport(config)
	if err != nil {
		return nil, err
	}

	lb := plugin.ResolveOr[loadbalancer.ILoadBalancer](a.Resolver, plugin.KindLoadBalancer, config.LoadBalancer, config,
		loadbalancer.NewRoundRobinLoadBalancer())
	r := plugin.ResolveOr[retry.IRetryStrategy](a.Resolver, plugin.KindRetryStrategy, config.RetryStrategy, config,
		retry.NewNoRetryStrategy())

	// fail over needs the client it reroutes through
	var c *client.RPCClient
	var tol tolerant.ITolerantStrategy
	if config.TolerantStrategy == tolerant.KeyFailOver {
		tol = tolerant.NewFailOverTolerantStrategy(func(ctx context.Context, tolerantCtx map[string]any, err error) (*common.Response, error) {
			return c.Reroute(ctx, tolerantCtx, err)
		})
	} else {
		tol = plugin.ResolveOr[tolerant.ITolerantStrategy](a.Resolver, plugin.KindTolerantStrategy, config.TolerantStrategy, config,
			tolerant.NewFailFastTolerantStrategy())
	}

	c = client.NewRPCClient(config, a.Registry, tr, lb, r, tol, s)
	return c, nil
}

func resolveRegistry(r *plugin.Resolver, key string) (registry.IRegistry, error) {
	instance, err := r.Resolve(plugin.KindRegistry, key, common.ClientConfig{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRegistration, err)
	}
	reg, ok := instance.(registry.IRegistry)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q is a %T, not a registry", common.ErrRegistration, key, instance)
	}
	return reg, nil
}

func resolveSerializer(r *plugin.Resolver, config common.ClientConfig) (serializer.IRPCSerializer, error) {
	instance, err := r.Resolve(plugin.KindSerializer, config.Serializer, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
	}
	s, ok := instance.(serializer.IRPCSerializer)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q is a %T, not a serializer", common.ErrSerialization, config.Serializer, instance)
	}
	return s, nil
}

// Close removes all registrations made through the application and disconnects the registry
func (a *Application) Close() error {
	if a.Registry == nil {
		return nil
	}
	return a.Registry.Destroy()
}
