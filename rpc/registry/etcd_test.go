package registry

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEtcd keeps keys in memory, it implements the parts of the etcd client used by the registry
type fakeEtcd struct {
	clientv3.KV
	clientv3.Lease
	clientv3.Watcher

	mu       sync.Mutex
	data     map[string]string
	leases   map[clientv3.LeaseID]bool
	nextID   clientv3.LeaseID
	grantErr error
	gets     int
	watches  []chan clientv3.WatchResponse
	closed   bool

	// rev is the store revision, history holds one event per revision
	rev        int64
	history    []*clientv3.Event
	watchStart []int64

	// afterGet runs once after the next Get, outside the lock
	afterGet func()
}

func newFakeEtcd() *fakeEtcd {
	return &fakeEtcd{data: map[string]string{}, leases: map[clientv3.LeaseID]bool{}}
}

func (f *fakeEtcd) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	f.record(mvccpb.PUT, key)
	return &clientv3.PutResponse{}, nil
}

func (f *fakeEtcd) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	f.gets++
	hook := f.afterGet
	f.afterGet = nil
	defer func() {
		if hook != nil {
			hook()
		}
	}()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	resp := &clientv3.GetResponse{Header: &etcdserverpb.ResponseHeader{Revision: f.rev}}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(f.data[k])})
	}
	return resp, nil
}

func (f *fakeEtcd) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		delete(f.data, key)
		f.record(mvccpb.DELETE, key)
	}
	return &clientv3.DeleteResponse{}, nil
}

func (f *fakeEtcd) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	f.nextID++
	f.leases[f.nextID] = true
	return &clientv3.LeaseGrantResponse{ID: f.nextID, TTL: ttl}, nil
}

func (f *fakeEtcd) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, id)
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (f *fakeEtcd) KeepAliveOnce(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.leases[id] {
		return nil, rpctypes.ErrLeaseNotFound
	}
	return &clientv3.LeaseKeepAliveResponse{ID: id}, nil
}

// Watch replays the recorded events from the requested revision on, later changes are sent by the test
func (f *fakeEtcd) Watch(_ context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := clientv3.OpGet(key, opts...).Rev()
	f.watchStart = append(f.watchStart, start)

	ch := make(chan clientv3.WatchResponse, 1)
	var replay []*clientv3.Event
	for _, ev := range f.history {
		if start > 0 && ev.Kv.ModRevision >= start && strings.HasPrefix(string(ev.Kv.Key), key) {
			replay = append(replay, ev)
		}
	}
	if len(replay) > 0 {
		ch <- clientv3.WatchResponse{Events: replay}
	}
	f.watches = append(f.watches, ch)
	return ch
}

func (f *fakeEtcd) record(typ mvccpb.Event_EventType, key string) {
	f.rev++
	f.history = append(f.history, &clientv3.Event{Type: typ, Kv: &mvccpb.KeyValue{Key: []byte(key), ModRevision: f.rev}})
}

func (f *fakeEtcd) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEtcd) expire(id clientv3.LeaseID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, id)
}

func (f *fakeEtcd) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func newTestEtcdRegistry(fake *fakeEtcd) *etcdRegistry {
	r := NewEtcdRegistry().(*etcdRegistry)
	r.use(common.RegistryConfig{Registry: KeyEtcd, TimeoutMillisecond: 500, LeaseTTLSecond: 30}, fake, fake, fake, fake)
	return r
}

func TestEtcdRegisterDiscover(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, echoNode(8000)))
	require.NoError(t, r.Register(ctx, echoNode(8001)))
	assert.Contains(t, fake.data, "/rpc/Echo:1.0/127.0.0.1:8000")

	metas, err := r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	assert.Equal(t, []common.ServiceMetaInfo{echoNode(8000), echoNode(8001)}, metas)

	// served from the cache
	_, err = r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.getCount())
}

func TestEtcdUnknownServiceIsEmpty(t *testing.T) {
	r := newTestEtcdRegistry(newFakeEtcd())
	metas, err := r.ServiceDiscovery(context.Background(), "Nope:1.0")
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestEtcdRegisterFailsWithoutLease(t *testing.T) {
	fake := newFakeEtcd()
	fake.grantErr = errors.New("context deadline exceeded")
	r := newTestEtcdRegistry(fake)

	err := r.Register(context.Background(), echoNode(8000))
	assert.ErrorIs(t, err, common.ErrRegistration)
	assert.Empty(t, fake.data)
}

func TestEtcdWatchInvalidatesCache(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, echoNode(8000)))
	_, err := r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	require.Len(t, fake.watches, 1)

	// a second registration by another process
	require.NoError(t, newTestEtcdRegistry(fake).Register(ctx, echoNode(8001)))
	fake.watches[0] <- clientv3.WatchResponse{Events: []*clientv3.Event{{Type: mvccpb.PUT}}}

	assert.Eventually(t, func() bool {
		metas, err := r.ServiceDiscovery(ctx, "Echo:1.0")
		return err == nil && len(metas) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestEtcdRenewReRegistersLostLease(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	require.NoError(t, r.Register(context.Background(), echoNode(8000)))

	node, ok := r.local.Load(echoNode(8000).ServiceNodeKey())
	require.True(t, ok)
	fake.expire(node.leaseID)
	fake.mu.Lock()
	delete(fake.data, "/rpc/Echo:1.0/127.0.0.1:8000")
	fake.mu.Unlock()

	r.renew(node)

	renewed, _ := r.local.Load(echoNode(8000).ServiceNodeKey())
	assert.NotEqual(t, node.leaseID, renewed.leaseID)
	assert.Contains(t, fake.data, "/rpc/Echo:1.0/127.0.0.1:8000")
}

func TestEtcdDestroyRemovesLocalKeys(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	require.NoError(t, r.Register(context.Background(), echoNode(8000)))
	require.NoError(t, newTestEtcdRegistry(fake).Register(context.Background(), echoNode(8001)))

	require.NoError(t, r.Destroy())
	assert.True(t, fake.closed)
	assert.NotContains(t, fake.data, "/rpc/Echo:1.0/127.0.0.1:8000")
	assert.Contains(t, fake.data, "/rpc/Echo:1.0/127.0.0.1:8001")
}

func TestEtcdChangeRightAfterReadIsSeen(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, echoNode(8000)))
	fake.afterGet = func() {
		require.NoError(t, newTestEtcdRegistry(fake).Register(ctx, echoNode(8001)))
	}

	metas, err := r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	assert.Len(t, metas, 1)

	fake.mu.Lock()
	require.Len(t, fake.watchStart, 1)
	assert.Equal(t, int64(2), fake.watchStart[0], "watch starts right after the read revision")
	fake.mu.Unlock()

	assert.Eventually(t, func() bool {
		metas, err := r.ServiceDiscovery(ctx, "Echo:1.0")
		return err == nil && len(metas) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestEtcdEndedWatchIsRestartedByDiscovery(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	ctx := context.Background()

	_, err := r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	require.Len(t, fake.watches, 1)

	close(fake.watches[0])
	assert.Eventually(t, func() bool {
		_, ok := r.watching.Load("Echo:1.0")
		return !ok
	}, time.Second, 10*time.Millisecond)

	_, err = r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.watches, 2)
}

func TestEtcdRenewDoesNotReviveUnregisteredNode(t *testing.T) {
	fake := newFakeEtcd()
	r := newTestEtcdRegistry(fake)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, echoNode(8000)))

	node, ok := r.local.Load(echoNode(8000).ServiceNodeKey())
	require.True(t, ok)
	require.NoError(t, r.Unregister(ctx, echoNode(8000)))

	// a renew that took its snapshot before the unregistration
	r.renew(node)

	_, ok = r.local.Load(echoNode(8000).ServiceNodeKey())
	assert.False(t, ok)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.NotContains(t, fake.data, "/rpc/Echo:1.0/127.0.0.1:8000")
}
