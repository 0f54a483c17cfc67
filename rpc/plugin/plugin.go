package plugin

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sort"
	"strings"
)

var Logger = logger.GetLogger("rpc")

// Kind names the capability a plugin implements
type Kind string

const (
	KindSerializer       Kind = "serializer"
	KindLoadBalancer     Kind = "loadBalancer"
	KindRetryStrategy    Kind = "retryStrategy"
	KindTolerantStrategy Kind = "tolerantStrategy"
	KindRegistry         Kind = "registry"
)

// Constructor creates a new plugin instance, conf carries the settings of the consumer that asked for it
type Constructor func(conf common.ClientConfig) (any, error)

// Resolver maps (kind, key) pairs to constructors.
// Registration is expected at startup, resolution is safe for concurrent use.
type Resolver struct {
	table *xsync.MapOf[string, Constructor]
}

// NewResolver creates an empty resolver
func NewResolver() *Resolver {
	return &Resolver{table: xsync.NewMapOf[string, Constructor]()}
}

// Register adds or replaces the constructor of key for kind
func (r *Resolver) Register(kind Kind, key string, ctor Constructor) {
	if _, replaced := r.table.Load(tableKey(kind, key)); replaced {
		Logger.Warningf("plugin %s/%s replaced", kind, key)
	}
	r.table.Store(tableKey(kind, key), ctor)
}

// Resolve creates the plugin registered for (kind, key)
func (r *Resolver) Resolve(kind Kind, key string, conf common.ClientConfig) (any, error) {
	ctor, ok := r.table.Load(tableKey(kind, key))
	if !ok {
		return nil, fmt.Errorf("no %s plugin registered under %q (known: %v)", kind, key, r.Keys(kind))
	}
	instance, err := ctor(conf)
	if err != nil {
		return nil, fmt.Errorf("create %s plugin %q: %w", kind, key, err)
	}
	return instance, nil
}

// Keys lists the registered keys of kind in sorted order
func (r *Resolver) Keys(kind Kind) []string {
	prefix := string(kind) + "/"
	var keys []string
	r.table.Range(func(k string, _ Constructor) bool {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

// ResolveOr resolves (kind, key) as T and falls back to fallback when the key is unknown,
// the constructor fails or the instance has the wrong type
func ResolveOr[T any](r *Resolver, kind Kind, key string, conf common.ClientConfig, fallback T) T {
	instance, err := r.Resolve(kind, key, conf)
	if err != nil {
		Logger.Warningf("%v, using fallback", err)
		return fallback
	}
	typed, ok := instance.(T)
	if !ok {
		Logger.Warningf("%s plugin %q has type %T, using fallback", kind, key, instance)
		return fallback
	}
	return typed
}

func tableKey(kind Kind, key string) string {
	return string(kind) + "/" + key
}
