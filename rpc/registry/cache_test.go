package registry

import (
	"errors"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echoNode(port int) common.ServiceMetaInfo {
	return common.ServiceMetaInfo{ServiceName: "Echo", ServiceVersion: "1.0", ServiceHost: "127.0.0.1", ServicePort: port}
}

func TestCacheLoadFillsOnce(t *testing.T) {
	c := newDiscoveryCache(8)
	var fetches atomic.Int32
	fetch := func() ([]common.ServiceMetaInfo, error) {
		fetches.Add(1)
		return []common.ServiceMetaInfo{echoNode(8000)}, nil
	}

	for i := 0; i < 3; i++ {
		metas, err := c.load("Echo:1.0", fetch)
		require.NoError(t, err)
		assert.Equal(t, []common.ServiceMetaInfo{echoNode(8000)}, metas)
	}
	assert.Equal(t, int32(1), fetches.Load())

	c.clear("Echo:1.0")
	_, err := c.load("Echo:1.0", fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestCacheErrorIsNotCached(t *testing.T) {
	c := newDiscoveryCache(8)
	boom := errors.New("boom")

	_, err := c.load("Echo:1.0", func() ([]common.ServiceMetaInfo, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	_, ok := c.get("Echo:1.0")
	assert.False(t, ok)
}

func TestCacheReturnsCopies(t *testing.T) {
	c := newDiscoveryCache(8)
	c.put("Echo:1.0", []common.ServiceMetaInfo{echoNode(8000)})

	metas, ok := c.get("Echo:1.0")
	require.True(t, ok)
	metas[0].ServicePort = 9999

	again, _ := c.get("Echo:1.0")
	assert.Equal(t, 8000, again[0].ServicePort)
}

func TestCacheConcurrentMissesShareOneFetch(t *testing.T) {
	c := newDiscoveryCache(8)
	var fetches atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.load("Echo:1.0", func() ([]common.ServiceMetaInfo, error) {
				fetches.Add(1)
				<-release
				return []common.ServiceMetaInfo{echoNode(8000)}, nil
			})
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, fetches.Load(), int32(2))
}

func TestCacheClearAll(t *testing.T) {
	c := newDiscoveryCache(8)
	c.put("Echo:1.0", []common.ServiceMetaInfo{echoNode(8000)})
	c.put("Echo:2.0", []common.ServiceMetaInfo{echoNode(8001)})
	c.clearAll()

	_, ok := c.get("Echo:1.0")
	assert.False(t, ok)
	_, ok = c.get("Echo:2.0")
	assert.False(t, ok)
}

func TestCacheDropsResultOfLoadOverlappingClear(t *testing.T) {
	c := newDiscoveryCache(8)

	metas, err := c.load("Echo:1.0", func() ([]common.ServiceMetaInfo, error) {
		// membership changes while the result is on its way
		c.clear("Echo:1.0")
		return []common.ServiceMetaInfo{echoNode(8000)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []common.ServiceMetaInfo{echoNode(8000)}, metas)

	_, ok := c.get("Echo:1.0")
	assert.False(t, ok)
}

func TestExpiringCacheForgetsEntries(t *testing.T) {
	c := newExpiringDiscoveryCache(50 * time.Millisecond)
	c.put("Echo:1.0", []common.ServiceMetaInfo{echoNode(8000)})

	_, ok := c.get("Echo:1.0")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.get("Echo:1.0")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
