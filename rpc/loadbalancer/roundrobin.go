package loadbalancer

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"math/rand"
	"sync/atomic"
)

// NewRoundRobinLoadBalancer rotates through the candidates, one step per call
func NewRoundRobinLoadBalancer() ILoadBalancer {
	return &roundRobinLoadBalancer{}
}

type roundRobinLoadBalancer struct {
	next atomic.Uint64
}

func (lb *roundRobinLoadBalancer) Select(_ map[string]any, candidates []common.ServiceMetaInfo) (common.ServiceMetaInfo, bool) {
	switch len(candidates) {
	case 0:
		return common.ServiceMetaInfo{}, false
	case 1:
		// optimize for a single candidate
		return candidates[0], true
	}
	index := (lb.next.Add(1) - 1) % uint64(len(candidates))
	return candidates[index], true
}

// NewRandomLoadBalancer picks a uniformly random candidate
func NewRandomLoadBalancer() ILoadBalancer {
	return &randomLoadBalancer{}
}

type randomLoadBalancer struct{}

func (lb *randomLoadBalancer) Select(_ map[string]any, candidates []common.ServiceMetaInfo) (common.ServiceMetaInfo, bool) {
	if len(candidates) == 0 {
		return common.ServiceMetaInfo{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}
