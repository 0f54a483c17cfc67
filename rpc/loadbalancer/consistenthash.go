package loadbalancer

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// VirtualReplicas is the number of ring positions every candidate occupies
const VirtualReplicas = 100

// NewConsistentHashLoadBalancer maps identical request params to the same candidate
// as long as the candidate set does not change.
func NewConsistentHashLoadBalancer() ILoadBalancer {
	return &consistentHashLoadBalancer{}
}

type consistentHashLoadBalancer struct {
	mu   sync.RWMutex
	ring *hashRing
}

// hashRing is immutable once built
type hashRing struct {
	signature string
	hashes    []uint64
	nodes     []common.ServiceMetaInfo
}

func (lb *consistentHashLoadBalancer) Select(params map[string]any, candidates []common.ServiceMetaInfo) (common.ServiceMetaInfo, bool) {
	if len(candidates) == 0 {
		return common.ServiceMetaInfo{}, false
	}

	ring := lb.ringFor(candidates)
	h := hashKey(paramsKey(params))

	// first position >= h, wrap to the first entry
	i := sort.Search(len(ring.hashes), func(i int) bool { return ring.hashes[i] >= h })
	if i == len(ring.hashes) {
		i = 0
	}
	return ring.nodes[i], true
}

// ringFor returns the ring of the candidate set and rebuilds it when the set changed
func (lb *consistentHashLoadBalancer) ringFor(candidates []common.ServiceMetaInfo) *hashRing {
	signature := candidateSignature(candidates)

	lb.mu.RLock()
	ring := lb.ring
	lb.mu.RUnlock()
	if ring != nil && ring.signature == signature {
		return ring
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.ring != nil && lb.ring.signature == signature {
		return lb.ring
	}
	lb.ring = buildRing(signature, candidates)
	return lb.ring
}

func buildRing(signature string, candidates []common.ServiceMetaInfo) *hashRing {
	type position struct {
		hash uint64
		node common.ServiceMetaInfo
	}
	positions := make([]position, 0, len(candidates)*VirtualReplicas)
	for _, c := range candidates {
		address := c.ServiceAddress()
		for i := 0; i < VirtualReplicas; i++ {
			positions = append(positions, position{hashKey(address + "#" + strconv.Itoa(i)), c})
		}
	}
	// ties are broken by address so the ring does not depend on candidate order
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].hash != positions[j].hash {
			return positions[i].hash < positions[j].hash
		}
		return positions[i].node.ServiceAddress() < positions[j].node.ServiceAddress()
	})

	ring := &hashRing{
		signature: signature,
		hashes:    make([]uint64, len(positions)),
		nodes:     make([]common.ServiceMetaInfo, len(positions)),
	}
	for i, p := range positions {
		ring.hashes[i] = p.hash
		ring.nodes[i] = p.node
	}
	return ring
}

// candidateSignature identifies a candidate set independent of its order
func candidateSignature(candidates []common.ServiceMetaInfo) string {
	addresses := make([]string, len(candidates))
	for i, c := range candidates {
		addresses[i] = c.ServiceNodeKey()
	}
	sort.Strings(addresses)
	return strings.Join(addresses, ",")
}

// paramsKey renders the params deterministically
func paramsKey(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fmt.Sprint(params[k]))
		sb.WriteByte(';')
	}
	return sb.String()
}

// hashKey is FNV-1a followed by the murmur3 finalizer, similar inputs like "host#1" and "host#2" spread over the whole ring
func hashKey(s string) uint64 {
	h := fnv.New64a()
	// writes to a hash never fail
	_, _ = h.Write([]byte(s))
	hash := h.Sum64()

	hash ^= hash >> 33
	hash *= 0xff51afd7ed558ccd
	hash ^= hash >> 33
	hash *= 0xc4ceb9fe1a85ec53
	hash ^= hash >> 33
	return hash
}
