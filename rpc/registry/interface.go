package registry

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("registry")

// Plugin keys of the built-in registry backends
const (
	KeyEtcd      = "etcd"
	KeyZooKeeper = "zookeeper"
	KeyRedis     = "redis"
	KeyMemory    = "memory"
)

//go:generate mockgen -destination=mocks/mock_registry.go -package=mocks github.com/ValentinKolb/dRPC/rpc/registry IRegistry

// IRegistry is the interface for all service registries.
// All backends expose the same contract: a registration stays visible while its owner is alive
// and disappears on its own once the owner stops renewing it.
type IRegistry interface {
	// Init connects to the coordination service, it must be called before any other method
	Init(config common.RegistryConfig) error
	// Register publishes meta, it fails with common.ErrRegistration within the configured timeout
	// if the coordination service can not be reached
	Register(ctx context.Context, meta common.ServiceMetaInfo) error
	// Unregister removes meta and its local bookkeeping
	Unregister(ctx context.Context, meta common.ServiceMetaInfo) error
	// ServiceDiscovery returns all live endpoints of serviceKey (name:version).
	// Failures wrap common.ErrDiscovery, an unknown service yields an empty list.
	ServiceDiscovery(ctx context.Context, serviceKey string) ([]common.ServiceMetaInfo, error)
	// Heartbeat starts renewing all registrations made through this instance, repeated calls are no-ops
	Heartbeat()
	// Watch invalidates the local discovery cache of serviceKey whenever its membership changes
	Watch(serviceKey string)
	// Destroy removes all registrations made through this instance and closes the connection
	Destroy() error
}

// New creates an uninitialized registry backend by key
func New(key string) (IRegistry, error) {
	switch key {
	case KeyEtcd:
		return NewEtcdRegistry(), nil
	case KeyZooKeeper:
		return NewZooKeeperRegistry(), nil
	case KeyRedis:
		return NewRedisRegistry(), nil
	case KeyMemory:
		return NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("%w: unknown registry %q", common.ErrRegistration, key)
	}
}
