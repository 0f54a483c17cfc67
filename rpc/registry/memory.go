package registry

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/patrickmn/go-cache"
	"github.com/puzpuzpuz/xsync/v3"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewMemoryRegistry creates an in-process registry. Entries expire after the lease TTL unless
// Heartbeat renews them. Provider and consumer must share the same instance, which makes it
// suitable for single process deployments and tests.
func NewMemoryRegistry() IRegistry {
	return &memoryRegistry{
		local:  xsync.NewMapOf[string, common.ServiceMetaInfo](),
		stopCh: make(chan struct{}),
	}
}

type memoryRegistry struct {
	store         *cache.Cache
	ttl           time.Duration
	local         *xsync.MapOf[string, common.ServiceMetaInfo]
	stopCh        chan struct{}
	heartbeatOnce sync.Once
	closeOnce     sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see registry.IRegistry)
// --------------------------------------------------------------------------

func (r *memoryRegistry) Init(config common.RegistryConfig) error {
	r.ttl = config.LeaseTTL()
	r.store = cache.New(r.ttl, time.Second)
	Logger.Infof("memory registry ready (lease ttl %s)", r.ttl)
	return nil
}

func (r *memoryRegistry) Register(ctx context.Context, meta common.ServiceMetaInfo) error {
	if r.store == nil {
		return fmt.Errorf("%w: memory registry is not initialized", common.ErrRegistration)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}
	r.store.Set(meta.ServiceNodeKey(), meta, r.ttl)
	r.local.Store(meta.ServiceNodeKey(), meta)
	Logger.Debugf("registered %s", meta.ServiceNodeKey())
	return nil
}

func (r *memoryRegistry) Unregister(_ context.Context, meta common.ServiceMetaInfo) error {
	// removed under the entry lock, a concurrent renew either runs before or sees no entry
	r.local.Compute(meta.ServiceNodeKey(), func(common.ServiceMetaInfo, bool) (common.ServiceMetaInfo, bool) {
		if r.store != nil {
			r.store.Delete(meta.ServiceNodeKey())
		}
		return common.ServiceMetaInfo{}, true
	})
	Logger.Debugf("unregistered %s", meta.ServiceNodeKey())
	return nil
}

func (r *memoryRegistry) ServiceDiscovery(_ context.Context, serviceKey string) ([]common.ServiceMetaInfo, error) {
	if r.store == nil {
		return nil, fmt.Errorf("%w: memory registry is not initialized", common.ErrDiscovery)
	}

	prefix := serviceKey + "/"
	var keys []string
	items := r.store.Items()
	for key := range items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	metas := make([]common.ServiceMetaInfo, 0, len(keys))
	for _, key := range keys {
		metas = append(metas, items[key].Object.(common.ServiceMetaInfo))
	}
	return metas, nil
}

func (r *memoryRegistry) Heartbeat() {
	r.heartbeatOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(renewInterval(r.ttl))
			defer ticker.Stop()
			for {
				select {
				case <-r.stopCh:
					return
				case <-ticker.C:
					r.local.Range(func(key string, meta common.ServiceMetaInfo) bool {
						r.renew(meta)
						return true
					})
				}
			}
		}()
	})
}

// renew extends the lease of meta unless it was unregistered since the renew loop took its snapshot
func (r *memoryRegistry) renew(meta common.ServiceMetaInfo) {
	r.local.Compute(meta.ServiceNodeKey(), func(current common.ServiceMetaInfo, loaded bool) (common.ServiceMetaInfo, bool) {
		if loaded {
			r.store.Set(meta.ServiceNodeKey(), current, r.ttl)
		}
		return current, !loaded
	})
}

// Watch is a no-op, discovery reads the authoritative store directly
func (r *memoryRegistry) Watch(string) {}

func (r *memoryRegistry) Destroy() error {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.local.Range(func(key string, _ common.ServiceMetaInfo) bool {
			if r.store != nil {
				r.store.Delete(key)
			}
			r.local.Delete(key)
			return true
		})
	})
	return nil
}

// renewInterval renews leases three times per TTL
func renewInterval(ttl time.Duration) time.Duration {
	if interval := ttl / 3; interval > 0 {
		return interval
	}
	return time.Second
}
