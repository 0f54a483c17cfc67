package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/go-redis/redis/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"sort"
	"sync"
	"time"
)

const (
	// RedisKeyPrefix prefixes every instance key written by the redis registry
	RedisKeyPrefix = "rpc:"
	// RedisEventPrefix prefixes the pub/sub channel announcing membership changes of a service
	RedisEventPrefix = "rpc:events:"

	redisScanCount = 100
)

// NewRedisRegistry creates a registry backed by redis.
// Every instance is a key with a TTL, changes are announced on a pub/sub channel per service.
// A key that expires is not announced, cached discovery results are therefore dropped after
// a third of the lease TTL.
func NewRedisRegistry() IRegistry {
	return &redisRegistry{
		local:    xsync.NewMapOf[string, common.ServiceMetaInfo](),
		watching: xsync.NewMapOf[string, *redis.PubSub](),
		stopCh:   make(chan struct{}),
	}
}

type redisRegistry struct {
	client   *redis.Client
	config   common.RegistryConfig
	local    *xsync.MapOf[string, common.ServiceMetaInfo]
	watching *xsync.MapOf[string, *redis.PubSub]
	cache    *discoveryCache

	stopCh        chan struct{}
	heartbeatOnce sync.Once
	closeOnce     sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see registry.IRegistry)
// --------------------------------------------------------------------------

func (r *redisRegistry) Init(config common.RegistryConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Username:     config.Username,
		Password:     config.Password,
		DialTimeout:  config.Timeout(),
		ReadTimeout:  config.Timeout(),
		WriteTimeout: config.Timeout(),
		MaxRetries:   -1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout())
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: connect to redis at %s: %v", common.ErrRegistration, config.Address, err)
	}

	r.config = config
	r.cache = newExpiringDiscoveryCache(renewInterval(config.LeaseTTL()))
	r.client = client
	Logger.Infof("redis registry ready (%s, lease ttl %s)", config.Address, config.LeaseTTL())
	return nil
}

func (r *redisRegistry) Register(ctx context.Context, meta common.ServiceMetaInfo) error {
	if r.client == nil {
		return fmt.Errorf("%w: redis registry is not initialized", common.ErrRegistration)
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
	defer cancel()

	if err := r.store(ctx, meta); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}
	r.local.Store(meta.ServiceNodeKey(), meta)
	r.announce(ctx, meta.ServiceKey())
	Logger.Debugf("registered %s", meta.ServiceNodeKey())
	return nil
}

func (r *redisRegistry) Unregister(ctx context.Context, meta common.ServiceMetaInfo) error {
	r.local.Delete(meta.ServiceNodeKey())
	if r.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
	defer cancel()

	if err := r.client.Del(ctx, redisKey(meta.ServiceNodeKey())).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}
	r.announce(ctx, meta.ServiceKey())
	Logger.Debugf("unregistered %s", meta.ServiceNodeKey())
	return nil
}

func (r *redisRegistry) ServiceDiscovery(ctx context.Context, serviceKey string) ([]common.ServiceMetaInfo, error) {
	if r.client == nil {
		return nil, fmt.Errorf("%w: redis registry is not initialized", common.ErrDiscovery)
	}

	// subscribed before reading, an announcement during the read clears the result
	if err := r.subscribe(ctx, serviceKey); err != nil {
		Logger.Warningf("watch of %s not armed, relying on cache expiry: %v", serviceKey, err)
	}

	return r.cache.load(serviceKey, func() ([]common.ServiceMetaInfo, error) {
		ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
		defer cancel()

		var keys []string
		var cursor uint64
		for {
			batch, next, err := r.client.Scan(ctx, cursor, redisKey(serviceKey)+"/*", redisScanCount).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: scan %s: %v", common.ErrDiscovery, serviceKey, err)
			}
			keys = append(keys, batch...)
			if cursor = next; cursor == 0 {
				break
			}
		}
		if len(keys) == 0 {
			return []common.ServiceMetaInfo{}, nil
		}
		sort.Strings(keys)

		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", common.ErrDiscovery, serviceKey, err)
		}

		metas := make([]common.ServiceMetaInfo, 0, len(values))
		for i, value := range values {
			// nil for keys that expired after the scan
			raw, ok := value.(string)
			if !ok {
				continue
			}
			var meta common.ServiceMetaInfo
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", common.ErrDiscovery, keys[i], err)
			}
			metas = append(metas, meta)
		}
		return metas, nil
	})
}

func (r *redisRegistry) Heartbeat() {
	r.heartbeatOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(renewInterval(r.config.LeaseTTL()))
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

func (r *redisRegistry) Watch(serviceKey string) {
	if r.client == nil {
		return
	}
	if err := r.subscribe(context.Background(), serviceKey); err != nil {
		Logger.Warningf("watch of %s not armed: %v", serviceKey, err)
	}
}

func (r *redisRegistry) Destroy() error {
	var result *multierror.Error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.watching.Range(func(key string, sub *redis.PubSub) bool {
			_ = sub.Close()
			return true
		})
		r.local.Range(func(key string, meta common.ServiceMetaInfo) bool {
			if err := r.Unregister(context.Background(), meta); err != nil {
				result = multierror.Append(result, err)
			}
			return true
		})
		if r.client != nil {
			if err := r.client.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		Logger.Infof("redis registry closed")
	})
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// subscribe listens on the change channel of serviceKey unless it already does.
// It returns once redis has confirmed the subscription.
func (r *redisRegistry) subscribe(ctx context.Context, serviceKey string) error {
	var err error
	sub, loaded := r.watching.LoadOrTryCompute(serviceKey, func() (*redis.PubSub, bool) {
		ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
		defer cancel()

		sub := r.client.Subscribe(ctx, RedisEventPrefix+serviceKey)
		if _, err = sub.Receive(ctx); err != nil {
			_ = sub.Close()
			return nil, true
		}
		return sub, false
	})
	if err != nil || loaded {
		return err
	}

	go func() {
		for msg := range sub.Channel() {
			Logger.Debugf("membership of %s changed (%s)", serviceKey, msg.Payload)
			r.cache.clear(serviceKey)
		}
		// unregister before clearing, the next discovery then subscribes again
		r.watching.Delete(serviceKey)
		r.cache.clear(serviceKey)
	}()
	return nil
}

func (r *redisRegistry) store(ctx context.Context, meta common.ServiceMetaInfo) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKey(meta.ServiceNodeKey()), value, r.config.LeaseTTL()).Err()
}

// announce notifies watchers of serviceKey, a lost announcement only delays cache invalidation
func (r *redisRegistry) announce(ctx context.Context, serviceKey string) {
	if err := r.client.Publish(ctx, RedisEventPrefix+serviceKey, "changed").Err(); err != nil {
		Logger.Debugf("announce change of %s: %v", serviceKey, err)
	}
}

// renew extends the TTL of meta, an expired key is written again
func (r *redisRegistry) renew(meta common.ServiceMetaInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout())
	defer cancel()

	alive, err := r.client.Expire(ctx, redisKey(meta.ServiceNodeKey()), r.config.LeaseTTL()).Result()
	if err != nil {
		Logger.Warningf("renew %s failed: %v", meta.ServiceNodeKey(), err)
		return
	}
	if alive {
		return
	}
	// unregistered since the renew loop took its snapshot
	if _, ok := r.local.Load(meta.ServiceNodeKey()); !ok {
		return
	}
	Logger.Warningf("%s expired, registering again", meta.ServiceNodeKey())
	if err := r.store(ctx, meta); err != nil {
		Logger.Errorf("re-register %s failed: %v", meta.ServiceNodeKey(), err)
		return
	}
	r.announce(ctx, meta.ServiceKey())
}

func redisKey(key string) string {
	return RedisKeyPrefix + key
}
