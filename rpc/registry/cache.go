package registry

import (
	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dRPC/rpc/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"sync"
	"time"
)

const defaultCacheSize = 1024

var (
	cacheHits   = metrics.GetOrCreateCounter("drpc_registry_cache_hits_total")
	cacheMisses = metrics.GetOrCreateCounter("drpc_registry_cache_misses_total")
)

// entryStore holds the cached discovery results
type entryStore interface {
	get(key string) (interface{}, bool)
	add(key string, value interface{})
	remove(key string)
	purge()
}

// discoveryCache holds the last successful discovery result per service key.
// Concurrent misses for the same key share one load. A load that overlaps a clear
// of the same cache is returned to its callers but not stored.
type discoveryCache struct {
	entries entryStore
	group   singleflight.Group

	// mu orders clears against stores, reads do not take it
	mu         sync.Mutex
	generation uint64
}

// newDiscoveryCache creates a bounded cache whose entries are only invalidated by clear
func newDiscoveryCache(size int) *discoveryCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	// lru.New only fails for a non positive size
	entries, _ := lru.New(size)
	return &discoveryCache{entries: lruStore{entries}}
}

// newExpiringDiscoveryCache creates a cache whose entries are also dropped maxAge after they were stored
func newExpiringDiscoveryCache(maxAge time.Duration) *discoveryCache {
	return &discoveryCache{entries: ttlStore{cache.New(maxAge, maxAge)}}
}

func (c *discoveryCache) get(serviceKey string) ([]common.ServiceMetaInfo, bool) {
	v, ok := c.entries.get(serviceKey)
	if !ok {
		return nil, false
	}
	return cloneMetas(v.([]common.ServiceMetaInfo)), true
}

func (c *discoveryCache) put(serviceKey string, metas []common.ServiceMetaInfo) {
	c.entries.add(serviceKey, cloneMetas(metas))
}

func (c *discoveryCache) clear(serviceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.remove(serviceKey)
}

func (c *discoveryCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.purge()
}

// load returns the cached list or fills the cache with the result of fetch
func (c *discoveryCache) load(serviceKey string, fetch func() ([]common.ServiceMetaInfo, error)) ([]common.ServiceMetaInfo, error) {
	if metas, ok := c.get(serviceKey); ok {
		cacheHits.Inc()
		return metas, nil
	}
	cacheMisses.Inc()

	v, err, _ := c.group.Do(serviceKey, func() (interface{}, error) {
		c.mu.Lock()
		generation := c.generation
		c.mu.Unlock()

		metas, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation == generation {
			c.put(serviceKey, metas)
		} else {
			Logger.Debugf("membership of %s changed during discovery, result not cached", serviceKey)
		}
		return metas, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneMetas(v.([]common.ServiceMetaInfo)), nil
}

func cloneMetas(metas []common.ServiceMetaInfo) []common.ServiceMetaInfo {
	out := make([]common.ServiceMetaInfo, len(metas))
	copy(out, metas)
	return out
}

// --------------------------------------------------------------------------
// Stores
// --------------------------------------------------------------------------

type lruStore struct {
	entries *lru.Cache
}

func (s lruStore) get(key string) (interface{}, bool) { return s.entries.Get(key) }
func (s lruStore) add(key string, value interface{}) { s.entries.Add(key, value) }
func (s lruStore) remove(key string)                 { s.entries.Remove(key) }
func (s lruStore) purge()                            { s.entries.Purge() }

type ttlStore struct {
	entries *cache.Cache
}

func (s ttlStore) get(key string) (interface{}, bool) { return s.entries.Get(key) }
func (s ttlStore) add(key string, value interface{}) {
	s.entries.Set(key, value, cache.DefaultExpiration)
}
func (s ttlStore) remove(key string) { s.entries.Delete(key) }
func (s ttlStore) purge()            { s.entries.Flush() }
