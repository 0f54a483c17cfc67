package loadbalancer

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"sync"
	"testing"
)

func candidates(n int) []common.ServiceMetaInfo {
	out := make([]common.ServiceMetaInfo, n)
	for i := range out {
		out[i] = common.ServiceMetaInfo{ServiceName: "Echo", ServiceVersion: "1.0", ServiceHost: "10.0.0.1", ServicePort: 8000 + i}
	}
	return out
}

func TestEmptyCandidates(t *testing.T) {
	for _, key := range []string{KeyRoundRobin, KeyConsistentHash, KeyRandom} {
		t.Run(key, func(t *testing.T) {
			lb, ok := New(key)
			require.True(t, ok)
			_, ok = lb.Select(map[string]any{ParamMethodName: "identity"}, nil)
			assert.False(t, ok)
		})
	}

	_, ok := New("weighted")
	assert.False(t, ok)
}

func TestRoundRobinFairness(t *testing.T) {
	tests := []struct{ n, k int }{{1, 10}, {3, 100}, {4, 1000}, {7, 1001}}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d candidates %d calls", tc.n, tc.k), func(t *testing.T) {
			lb := NewRoundRobinLoadBalancer()
			cs := candidates(tc.n)
			counts := map[int]int{}
			for i := 0; i < tc.k; i++ {
				c, ok := lb.Select(nil, cs)
				require.True(t, ok)
				counts[c.ServicePort]++
			}
			require.Len(t, counts, tc.n)
			for port, count := range counts {
				assert.GreaterOrEqual(t, count, tc.k/tc.n, "port %d", port)
				assert.LessOrEqual(t, count, (tc.k+tc.n-1)/tc.n, "port %d", port)
			}
		})
	}
}

func TestRoundRobinConcurrent(t *testing.T) {
	lb := NewRoundRobinLoadBalancer()
	cs := candidates(4)

	var mu sync.Mutex
	counts := map[int]int{}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c, _ := lb.Select(nil, cs)
				mu.Lock()
				counts[c.ServicePort]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// the counter is atomic, so the rotation stays exact even under contention
	for _, count := range counts {
		assert.Equal(t, 200, count)
	}
}

func TestConsistentHashAffinity(t *testing.T) {
	lb := NewConsistentHashLoadBalancer()
	cs := candidates(5)

	for _, method := range []string{"identity", "upper", "sleep", "fail"} {
		params := map[string]any{ParamMethodName: method}
		first, ok := lb.Select(params, cs)
		require.True(t, ok)
		for i := 0; i < 20; i++ {
			again, _ := lb.Select(params, cs)
			assert.Equal(t, first, again, method)
		}

		// candidate order does not matter
		reversed := make([]common.ServiceMetaInfo, len(cs))
		for i := range cs {
			reversed[len(cs)-1-i] = cs[i]
		}
		again, _ := lb.Select(params, reversed)
		assert.Equal(t, first, again, method)
	}
}

func TestConsistentHashMinimalDisruption(t *testing.T) {
	lb := NewConsistentHashLoadBalancer()
	before := candidates(10)
	after := candidates(11)
	added := after[10]

	const keys = 2000
	moved := 0
	for i := 0; i < keys; i++ {
		params := map[string]any{ParamMethodName: fmt.Sprintf("method-%d", i)}
		a, _ := lb.Select(params, before)
		b, _ := lb.Select(params, after)
		if a != b {
			moved++
			// keys only ever move to the new candidate
			assert.Equal(t, added, b)
		}
	}

	// about 1/11 of the keys are expected to move
	assert.Greater(t, moved, 0)
	assert.Less(t, moved, keys/4)
}

func TestConsistentHashSpread(t *testing.T) {
	lb := NewConsistentHashLoadBalancer()
	cs := candidates(4)

	counts := map[int]int{}
	for i := 0; i < 4000; i++ {
		c, _ := lb.Select(map[string]any{ParamMethodName: fmt.Sprintf("m%d", i)}, cs)
		counts[c.ServicePort]++
	}
	require.Len(t, counts, 4)
	for _, count := range counts {
		assert.Greater(t, count, 400)
	}
}

func TestRandomStaysInCandidates(t *testing.T) {
	lb := NewRandomLoadBalancer()
	cs := candidates(3)
	for i := 0; i < 100; i++ {
		c, ok := lb.Select(nil, cs)
		require.True(t, ok)
		assert.Contains(t, cs, c)
	}
}

func TestHashKeyIsStableAndSpread(t *testing.T) {
	assert.Equal(t, hashKey("127.0.0.1:8000#1"), hashKey("127.0.0.1:8000#1"))
	assert.NotEqual(t, hashKey("127.0.0.1:8000#1"), hashKey("127.0.0.1:8000#2"))

	// neighbouring replicas land in different halves of the ring about as often as not
	upper := 0
	for i := 0; i < 1000; i++ {
		if hashKey(fmt.Sprintf("127.0.0.1:8000#%d", i)) > math.MaxUint64/2 {
			upper++
		}
	}
	assert.InDelta(t, 500, upper, 100)
}
