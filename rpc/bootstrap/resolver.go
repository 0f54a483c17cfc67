package bootstrap

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/fault/retry"
	"github.com/ValentinKolb/dRPC/rpc/fault/tolerant"
	"github.com/ValentinKolb/dRPC/rpc/loadbalancer"
	"github.com/ValentinKolb/dRPC/rpc/plugin"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
)

// DefaultResolver returns a resolver knowing all built-in plugins
func DefaultResolver() *plugin.Resolver {
	r := plugin.NewResolver()

	for _, key := range serializer.Keys() {
		key := key
		r.Register(plugin.KindSerializer, key, func(common.ClientConfig) (any, error) {
			return serializer.ByKey(key)
		})
	}

	for _, key := range []string{loadbalancer.KeyRoundRobin, loadbalancer.KeyConsistentHash, loadbalancer.KeyRandom} {
		key := key
		r.Register(plugin.KindLoadBalancer, key, func(common.ClientConfig) (any, error) {
			lb, _ := loadbalancer.New(key)
			return lb, nil
		})
	}

	for _, key := range []string{retry.KeyNo, retry.KeyFixedInterval, retry.KeyExponential} {
		key := key
		r.Register(plugin.KindRetryStrategy, key, func(conf common.ClientConfig) (any, error) {
			s, _ := retry.New(key, conf.Retry)
			return s, nil
		})
	}

	for _, key := range []string{tolerant.KeyFailFast, tolerant.KeyFailOver, tolerant.KeyFailSafe} {
		key := key
		r.Register(plugin.KindTolerantStrategy, key, func(common.ClientConfig) (any, error) {
			s, _ := tolerant.New(key)
			return s, nil
		})
	}

	for _, key := range []string{registry.KeyEtcd, registry.KeyZooKeeper, registry.KeyRedis, registry.KeyMemory} {
		key := key
		r.Register(plugin.KindRegistry, key, func(common.ClientConfig) (any, error) {
			reg, err := registry.New(key)
			if err != nil {
				return nil, fmt.Errorf("registry %s: %w", key, err)
			}
			return reg, nil
		})
	}

	return r
}
