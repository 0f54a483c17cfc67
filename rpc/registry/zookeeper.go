package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// ZooKeeperRootPath is the parent of all service nodes written by the zookeeper registry
const ZooKeeperRootPath = "/rpc/zk"

// zkConn is the subset of *zk.Conn used by the registry
type zkConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Close()
}

// NewZooKeeperRegistry creates a registry backed by zookeeper.
// Every instance is an ephemeral node, it is removed by the server when the session ends.
func NewZooKeeperRegistry() IRegistry {
	return &zooKeeperRegistry{
		local:  xsync.NewMapOf[string, common.ServiceMetaInfo](),
		cache:  newDiscoveryCache(defaultCacheSize),
		stopCh: make(chan struct{}),
	}
}

type zooKeeperRegistry struct {
	conn   zkConn
	config common.RegistryConfig
	local  *xsync.MapOf[string, common.ServiceMetaInfo]
	cache  *discoveryCache

	stopCh    chan struct{}
	closeOnce sync.Once
}

// --------------------------------------------------------------------------
// Interface Methods (docu see registry.IRegistry)
// --------------------------------------------------------------------------

func (r *zooKeeperRegistry) Init(config common.RegistryConfig) error {
	conn, events, err := zk.Connect(config.Endpoints(), config.LeaseTTL(), zk.WithLogger(zkLogger{}))
	if err != nil {
		return fmt.Errorf("%w: connect to zookeeper at %s: %v", common.ErrRegistration, config.Address, err)
	}

	// wait until a session is established, otherwise every later call would block
	timeout := time.After(config.Timeout())
	for connected := false; !connected; {
		select {
		case ev := <-events:
			connected = ev.State == zk.StateHasSession
		case <-timeout:
			conn.Close()
			return fmt.Errorf("%w: no zookeeper session with %s after %s", common.ErrRegistration, config.Address, config.Timeout())
		}
	}

	if config.Username != "" {
		if err := conn.AddAuth("digest", []byte(config.Username+":"+config.Password)); err != nil {
			conn.Close()
			return fmt.Errorf("%w: authenticate with zookeeper: %v", common.ErrRegistration, err)
		}
	}

	r.use(config, conn)
	go r.sessionLoop(events)
	Logger.Infof("zookeeper registry ready (%s)", config.Address)
	return nil
}

// use wires the registry to a zookeeper connection
func (r *zooKeeperRegistry) use(config common.RegistryConfig, conn zkConn) {
	r.config = config
	r.conn = conn
}

func (r *zooKeeperRegistry) Register(_ context.Context, meta common.ServiceMetaInfo) error {
	if r.conn == nil {
		return fmt.Errorf("%w: zookeeper registry is not initialized", common.ErrRegistration)
	}

	parent := zkServicePath(meta.ServiceKey())
	if err := r.ensurePath(parent); err != nil {
		return fmt.Errorf("%w: create %s: %v", common.ErrRegistration, parent, err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}

	node := zkNodePath(meta)
	_, err = r.conn.Create(node, data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		// a node left over from an expired session of this address
		if err = r.conn.Delete(node, -1); err == nil || errors.Is(err, zk.ErrNoNode) {
			_, err = r.conn.Create(node, data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
		}
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", common.ErrRegistration, node, err)
	}

	r.local.Store(meta.ServiceNodeKey(), meta)
	Logger.Debugf("registered %s", meta.ServiceNodeKey())
	return nil
}

func (r *zooKeeperRegistry) Unregister(_ context.Context, meta common.ServiceMetaInfo) error {
	r.local.Delete(meta.ServiceNodeKey())
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Delete(zkNodePath(meta), -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("%w: delete %s: %v", common.ErrRegistration, meta.ServiceNodeKey(), err)
	}
	Logger.Debugf("unregistered %s", meta.ServiceNodeKey())
	return nil
}

func (r *zooKeeperRegistry) ServiceDiscovery(_ context.Context, serviceKey string) ([]common.ServiceMetaInfo, error) {
	if r.conn == nil {
		return nil, fmt.Errorf("%w: zookeeper registry is not initialized", common.ErrDiscovery)
	}
	return r.cache.load(serviceKey, func() ([]common.ServiceMetaInfo, error) {
		return r.fetch(serviceKey)
	})
}

// Heartbeat is a no-op, the zookeeper client keeps the session and therefore the ephemeral nodes alive
func (r *zooKeeperRegistry) Heartbeat() {}

// Watch fills the cache of serviceKey. Every fetch leaves a one shot watch behind that clears
// the entry on the next membership change, so a cached list always has a pending watch.
func (r *zooKeeperRegistry) Watch(serviceKey string) {
	if r.conn == nil {
		return
	}
	if _, err := r.ServiceDiscovery(context.Background(), serviceKey); err != nil {
		Logger.Warningf("watch of %s not armed: %v", serviceKey, err)
	}
}

func (r *zooKeeperRegistry) Destroy() error {
	var result *multierror.Error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.local.Range(func(key string, meta common.ServiceMetaInfo) bool {
			if err := r.Unregister(context.Background(), meta); err != nil {
				result = multierror.Append(result, err)
			}
			return true
		})
		if r.conn != nil {
			r.conn.Close()
		}
		Logger.Infof("zookeeper registry closed")
	})
	return result.ErrorOrNil()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// fetch lists the members of serviceKey. The listing and the watch on it are one
// zookeeper call, a change right after the read still fires the watch.
func (r *zooKeeperRegistry) fetch(serviceKey string) ([]common.ServiceMetaInfo, error) {
	parent := zkServicePath(serviceKey)

	children, _, events, err := r.conn.ChildrenW(parent)
	for errors.Is(err, zk.ErrNoNode) {
		// no member was ever registered, wait for the service node to appear instead
		var exists bool
		exists, _, events, err = r.conn.ExistsW(parent)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrDiscovery, serviceKey, err)
		}
		if !exists {
			r.follow(serviceKey, events)
			return []common.ServiceMetaInfo{}, nil
		}
		// created in between, the exists watch is left to fire on its own
		children, _, events, err = r.conn.ChildrenW(parent)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrDiscovery, serviceKey, err)
	}
	r.follow(serviceKey, events)
	sort.Strings(children)

	metas := make([]common.ServiceMetaInfo, 0, len(children))
	for _, child := range children {
		data, _, err := r.conn.Get(path.Join(parent, child))
		if errors.Is(err, zk.ErrNoNode) {
			// removed between listing and reading
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", common.ErrDiscovery, child, err)
		}
		var meta common.ServiceMetaInfo
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", common.ErrDiscovery, child, err)
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// follow clears the cache entry of serviceKey once the watch behind events fires
func (r *zooKeeperRegistry) follow(serviceKey string, events <-chan zk.Event) {
	go func() {
		select {
		case <-r.stopCh:
		case ev := <-events:
			Logger.Debugf("membership of %s changed (%s)", serviceKey, ev.Type)
			r.cache.clear(serviceKey)
		}
	}()
}

// sessionLoop follows the session state, watches set before an expired session are gone
func (r *zooKeeperRegistry) sessionLoop(events <-chan zk.Event) {
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		Logger.Debugf("zookeeper session state %s", ev.State)
		if ev.State == zk.StateExpired {
			Logger.Warningf("zookeeper session expired, dropping discovery cache")
			r.cache.clearAll()
		}
	}
}

// ensurePath creates all missing persistent nodes of p
func (r *zooKeeperRegistry) ensurePath(p string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		current += "/" + part
		exists, _, err := r.conn.Exists(current)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := r.conn.Create(current, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return err
		}
	}
	return nil
}

// zkLogger routes the zookeeper client log into the registry logger
type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func zkServicePath(serviceKey string) string {
	return ZooKeeperRootPath + "/" + serviceKey
}

func zkNodePath(meta common.ServiceMetaInfo) string {
	return zkServicePath(meta.ServiceKey()) + "/" + meta.ServiceAddress()
}
