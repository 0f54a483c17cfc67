package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	clientv3 "go.etcd.io/etcd/client/v3"
	"io"
	"sync"
	"time"
)

// EtcdRootPath prefixes every key written by the etcd registry
const EtcdRootPath = "/rpc/"

// NewEtcdRegistry creates a lease based registry backed by etcd.
// Every registration is bound to its own lease, it disappears once the lease is no longer renewed.
func NewEtcdRegistry() IRegistry {
	return &etcdRegistry{
		local:    xsync.NewMapOf[string, etcdNode](),
		watching: xsync.NewMapOf[string, context.CancelFunc](),
		cache:    newDiscoveryCache(defaultCacheSize),
		stopCh:   make(chan struct{}),
	}
}

// etcdNode is the local bookkeeping of one registration
type etcdNode struct {
	meta    common.ServiceMetaInfo
	leaseID clientv3.LeaseID
}

type etcdRegistry struct {
	// the client is split into its interfaces so tests can replace the server side
	closer  io.Closer
	kv      clientv3.KV
	lease   clientv3.Lease
	watcher clientv3.Watcher

	config   common.RegistryConfig
	local    *xsync.MapOf[string, etcdNode]
	watching *xsync.MapOf[string, context.CancelFunc]
	cache    *discoveryCache

	stopCh        chan struct{}
	heartbeatOnce sync.Once
	closeOnce     sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see registry.IRegistry)
// --------------------------------------------------------------------------

func (r *etcdRegistry) Init(config common.RegistryConfig) error {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints(),
		DialTimeout: config.Timeout(),
		Username:    config.Username,
		Password:    config.Password,
	})
	if err != nil {
		return fmt.Errorf("%w: connect to etcd at %s: %v", common.ErrRegistration, config.Address, err)
	}
	r.use(config, client, client.KV, client.Lease, client.Watcher)
	Logger.Infof("etcd registry ready (%s, lease ttl %s)", config.Address, config.LeaseTTL())
	return nil
}

// use wires the registry to an etcd client
func (r *etcdRegistry) use(config common.RegistryConfig, closer io.Closer, kv clientv3.KV, lease clientv3.Lease, watcher clientv3.Watcher) {
	r.config = config
	r.closer = closer
	r.kv = kv
	r.lease = lease
	r.watcher = watcher
}

func (r *etcdRegistry) Register(ctx context.Context, meta common.ServiceMetaInfo) error {
	if r.kv == nil {
		return fmt.Errorf("%w: etcd registry is not initialized", common.ErrRegistration)
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
	defer cancel()

	grant, err := r.lease.Grant(ctx, int64(r.config.LeaseTTL()/time.Second))
	if err != nil {
		return fmt.Errorf("%w: grant lease for %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}

	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}

	if _, err := r.kv.Put(ctx, etcdKey(meta.ServiceNodeKey()), string(value), clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("%w: put %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}

	r.local.Store(meta.ServiceNodeKey(), etcdNode{meta: meta, leaseID: grant.ID})
	Logger.Debugf("registered %s with lease %x", meta.ServiceNodeKey(), grant.ID)
	return nil
}

func (r *etcdRegistry) Unregister(ctx context.Context, meta common.ServiceMetaInfo) error {
	node, _ := r.local.LoadAndDelete(meta.ServiceNodeKey())
	if r.kv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
	defer cancel()

	if _, err := r.kv.Delete(ctx, etcdKey(meta.ServiceNodeKey())); err != nil {
		return fmt.Errorf("%w: delete %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}
	if node.leaseID != 0 {
		if _, err := r.lease.Revoke(ctx, node.leaseID); err != nil {
			Logger.Debugf("revoke lease %x of %s: %v", node.leaseID, meta.ServiceNodeKey(), err)
		}
	}
	Logger.Debugf("unregistered %s", meta.ServiceNodeKey())
	return nil
}

func (r *etcdRegistry) ServiceDiscovery(ctx context.Context, serviceKey string) ([]common.ServiceMetaInfo, error) {
	if r.kv == nil {
		return nil, fmt.Errorf("%w: etcd registry is not initialized", common.ErrDiscovery)
	}

	return r.cache.load(serviceKey, func() ([]common.ServiceMetaInfo, error) {
		ctx, cancel := context.WithTimeout(ctx, r.config.Timeout())
		defer cancel()

		resp, err := r.kv.Get(ctx, etcdKey(serviceKey)+"/", clientv3.WithPrefix())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrDiscovery, serviceKey, err)
		}
		// every change after the read revision reaches the watch
		r.watchFrom(serviceKey, resp.Header.GetRevision()+1)

		metas := make([]common.ServiceMetaInfo, 0, len(resp.Kvs))
		for _, kv := range resp.Kvs {
			var meta common.ServiceMetaInfo
			if err := json.Unmarshal(kv.Value, &meta); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", common.ErrDiscovery, kv.Key, err)
			}
			metas = append(metas, meta)
		}
		return metas, nil
	})
}

func (r *etcdRegistry) Heartbeat() {
	r.heartbeatOnce.Do(func() {
		go r.renewLoop(renewInterval(r.config.LeaseTTL()))
	})
}

func (r *etcdRegistry) Watch(serviceKey string) {
	if r.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout())
	defer cancel()

	resp, err := r.kv.Get(ctx, etcdKey(serviceKey)+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		Logger.Warningf("watch of %s not armed: %v", serviceKey, err)
		return
	}
	r.watchFrom(serviceKey, resp.Header.GetRevision()+1)
}

func (r *etcdRegistry) Destroy() error {
	var result *multierror.Error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.watching.Range(func(key string, cancel context.CancelFunc) bool {
			cancel()
			return true
		})

		r.local.Range(func(key string, node etcdNode) bool {
			if err := r.Unregister(context.Background(), node.meta); err != nil {
				result = multierror.Append(result, err)
			}
			return true
		})

		if r.closer != nil {
			if err := r.closer.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		Logger.Infof("etcd registry closed")
	})
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// watchFrom watches the prefix of serviceKey starting at revision rev, unless a watch is already running.
// A running watch started earlier and has seen every change since.
func (r *etcdRegistry) watchFrom(serviceKey string, rev int64) {
	if r.watcher == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if _, loaded := r.watching.LoadOrStore(serviceKey, cancel); loaded {
		cancel()
		return
	}

	ch := r.watcher.Watch(clientv3.WithRequireLeader(ctx), etcdKey(serviceKey)+"/", clientv3.WithPrefix(), clientv3.WithRev(rev))
	go func() {
		defer cancel()
		for resp := range ch {
			if err := resp.Err(); err != nil {
				Logger.Warningf("watch of %s failed: %v", serviceKey, err)
				break
			}
			if len(resp.Events) > 0 {
				Logger.Debugf("membership of %s changed (%d events)", serviceKey, len(resp.Events))
				r.cache.clear(serviceKey)
			}
		}
		// unregister before clearing, the next discovery then starts a new watch
		r.watching.Delete(serviceKey)
		r.cache.clear(serviceKey)
	}()
}

// renewLoop keeps the leases of all local registrations alive, a lost lease is replaced by a new registration
func (r *etcdRegistry) renewLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.local.Range(func(key string, node etcdNode) bool {
				r.renew(node)
				return true
			})
		}
	}
}

func (r *etcdRegistry) renew(node etcdNode) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout())
	defer cancel()

	_, err := r.lease.KeepAliveOnce(ctx, node.leaseID)
	if err == nil {
		return
	}
	// unregistered since the renew loop took its snapshot
	if _, ok := r.local.Load(node.meta.ServiceNodeKey()); !ok {
		return
	}
	Logger.Warningf("renew lease of %s failed, registering again: %v", node.meta.ServiceNodeKey(), err)
	if err := r.Register(ctx, node.meta); err != nil {
		Logger.Errorf("re-register %s failed: %v", node.meta.ServiceNodeKey(), err)
	}
}

func etcdKey(key string) string {
	return EtcdRootPath + key
}
