package registry

import (
	"context"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func newTestMemoryRegistry(t *testing.T, ttl int64) IRegistry {
	r, err := New(KeyMemory)
	require.NoError(t, err)
	require.NoError(t, r.Init(common.RegistryConfig{Registry: KeyMemory, LeaseTTLSecond: ttl}))
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func TestMemoryRegisterDiscover(t *testing.T) {
	r := newTestMemoryRegistry(t, 30)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, echoNode(8001)))
	require.NoError(t, r.Register(ctx, echoNode(8000)))
	require.NoError(t, r.Register(ctx, common.ServiceMetaInfo{ServiceName: "Other", ServiceVersion: "1.0", ServiceHost: "127.0.0.1", ServicePort: 9000}))

	metas, err := r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	assert.Equal(t, []common.ServiceMetaInfo{echoNode(8000), echoNode(8001)}, metas)

	require.NoError(t, r.Unregister(ctx, echoNode(8000)))
	metas, err = r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	assert.Equal(t, []common.ServiceMetaInfo{echoNode(8001)}, metas)
}

func TestMemoryUnknownServiceIsEmpty(t *testing.T) {
	r := newTestMemoryRegistry(t, 30)
	metas, err := r.ServiceDiscovery(context.Background(), "Nope:1.0")
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestMemoryEntriesExpireWithoutHeartbeat(t *testing.T) {
	r := newTestMemoryRegistry(t, 1)
	require.NoError(t, r.Register(context.Background(), echoNode(8000)))

	assert.Eventually(t, func() bool {
		metas, err := r.ServiceDiscovery(context.Background(), "Echo:1.0")
		return err == nil && len(metas) == 0
	}, 3*time.Second, 100*time.Millisecond)
}

func TestMemoryHeartbeatKeepsEntriesAlive(t *testing.T) {
	r := newTestMemoryRegistry(t, 1)
	require.NoError(t, r.Register(context.Background(), echoNode(8000)))
	r.Heartbeat()
	r.Heartbeat()

	time.Sleep(1500 * time.Millisecond)
	metas, err := r.ServiceDiscovery(context.Background(), "Echo:1.0")
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestMemoryDestroyRemovesLocalEntries(t *testing.T) {
	r := NewMemoryRegistry()
	require.NoError(t, r.Init(common.RegistryConfig{LeaseTTLSecond: 30}))
	require.NoError(t, r.Register(context.Background(), echoNode(8000)))

	require.NoError(t, r.Destroy())
	require.NoError(t, r.Destroy())

	metas, err := r.ServiceDiscovery(context.Background(), "Echo:1.0")
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestMemoryNotInitialized(t *testing.T) {
	r := NewMemoryRegistry()
	assert.ErrorIs(t, r.Register(context.Background(), echoNode(8000)), common.ErrRegistration)
	_, err := r.ServiceDiscovery(context.Background(), "Echo:1.0")
	assert.ErrorIs(t, err, common.ErrDiscovery)
}

func TestNewUnknownRegistry(t *testing.T) {
	_, err := New("consul")
	assert.ErrorIs(t, err, common.ErrRegistration)
}

func TestMemoryRenewDoesNotReviveUnregisteredEntry(t *testing.T) {
	r := newTestMemoryRegistry(t, 30).(*memoryRegistry)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, echoNode(8000)))
	require.NoError(t, r.Unregister(ctx, echoNode(8000)))

	// a renew that took its snapshot before the unregistration
	r.renew(echoNode(8000))

	metas, err := r.ServiceDiscovery(ctx, "Echo:1.0")
	require.NoError(t, err)
	assert.Empty(t, metas)
}
