package bootstrap

import (
	"context"
	"github.com/ValentinKolb/dRPC/lib/echo"
	"github.com/ValentinKolb/dRPC/rpc/client"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/fault/tolerant"
	"github.com/ValentinKolb/dRPC/rpc/plugin"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/ValentinKolb/dRPC/rpc/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func memoryApplication(t *testing.T) *Application {
	conf := common.DefaultRegistryConfig()
	conf.Registry = registry.KeyMemory
	app, err := NewApplication(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func startProvider(t *testing.T, app *Application) *server.RPCServer {
	config := common.DefaultServerConfig()
	config.Port = 0
	provider := app.NewProvider(config)
	require.NoError(t, provider.RegisterService(server.NewEchoServiceDesc(echo.NewEcho())))
	require.NoError(t, provider.Listen(context.Background()))
	go func() { _ = provider.Serve() }()
	t.Cleanup(func() { _ = provider.Shutdown() })
	return provider
}

func TestDefaultResolverKnowsBuiltins(t *testing.T) {
	r := DefaultResolver()

	assert.Equal(t, []string{"binary", "gob", "json"}, r.Keys(plugin.KindSerializer))
	assert.Equal(t, []string{"consistentHash", "random", "roundRobin"}, r.Keys(plugin.KindLoadBalancer))
	assert.Equal(t, []string{"fixedInterval", "grpc", "no"}, r.Keys(plugin.KindRetryStrategy))
	assert.Equal(t, []string{"failFast", "failOver", "failSafe"}, r.Keys(plugin.KindTolerantStrategy))
	assert.Equal(t, []string{"etcd", "memory", "redis", "zookeeper"}, r.Keys(plugin.KindRegistry))

	for _, kind := range []plugin.Kind{plugin.KindSerializer, plugin.KindLoadBalancer, plugin.KindRetryStrategy, plugin.KindTolerantStrategy, plugin.KindRegistry} {
		for _, key := range r.Keys(kind) {
			instance, err := r.Resolve(kind, key, common.DefaultClientConfig())
			require.NoError(t, err, "%s/%s", kind, key)
			assert.NotNil(t, instance, "%s/%s", kind, key)
		}
	}
}

func TestProviderAndConsumer(t *testing.T) {
	app := memoryApplication(t)
	startProvider(t, app)

	consumer, err := app.NewConsumer(common.DefaultClientConfig())
	require.NoError(t, err)
	defer consumer.Close()

	out, err := client.NewRPCEcho(consumer).Identity(context.Background(), "yupi")
	require.NoError(t, err)
	assert.Equal(t, "yupi", out)
}

func TestConsumerFailsOverToLiveEndpoint(t *testing.T) {
	app, err := NewApplication(common.RegistryConfig{})
	require.NoError(t, err)
	assert.Nil(t, app.Registry)
	provider := startProvider(t, app)

	config := common.DefaultClientConfig()
	config.Endpoints = []string{"127.0.0.1:1", provider.Addr().String()}
	config.TolerantStrategy = tolerant.KeyFailOver
	consumer, err := app.NewConsumer(config)
	require.NoError(t, err)
	defer consumer.Close()

	// round robin starts with the dead endpoint
	out, err := client.NewRPCEcho(consumer).Upper(context.Background(), "yupi")
	require.NoError(t, err)
	assert.Equal(t, "YUPI", out)
}

func TestUnknownKeys(t *testing.T) {
	conf := common.DefaultRegistryConfig()
	conf.Registry = "consul"
	_, err := NewApplication(conf)
	assert.ErrorIs(t, err, common.ErrRegistration)

	app := memoryApplication(t)
	config := common.DefaultClientConfig()
	config.Serializer = "xml"
	_, err = app.NewConsumer(config)
	assert.ErrorIs(t, err, common.ErrSerialization)

	// unknown strategies fall back to the defaults
	config = common.DefaultClientConfig()
	config.LoadBalancer = "weighted"
	config.RetryStrategy = "forever"
	config.TolerantStrategy = "ignore"
	consumer, err := app.NewConsumer(config)
	require.NoError(t, err)
	assert.NoError(t, consumer.Close())
}

func TestPluginOfWrongKindIsAnError(t *testing.T) {
	notAPlugin := func(common.ClientConfig) (any, error) { return 42, nil }

	r := DefaultResolver()
	r.Register(plugin.KindRegistry, "bogus", notAPlugin)
	_, err := resolveRegistry(r, "bogus")
	assert.ErrorIs(t, err, common.ErrRegistration)

	app := memoryApplication(t)
	app.Resolver.Register(plugin.KindSerializer, "bogus", notAPlugin)
	config := common.DefaultClientConfig()
	config.Serializer = "bogus"
	assert.NotPanics(t, func() {
		_, err = app.NewConsumer(config)
	})
	assert.ErrorIs(t, err, common.ErrSerialization)
}
