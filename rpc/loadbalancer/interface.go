package loadbalancer

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// Plugin keys of the built-in load balancers
const (
	KeyRoundRobin     = "roundRobin"
	KeyConsistentHash = "consistentHash"
	KeyRandom         = "random"
)

// ParamMethodName is the request attribute the client passes to Select
const ParamMethodName = "methodName"

// ILoadBalancer picks one endpoint out of the discovered candidates.
type ILoadBalancer interface {
	// Select returns one of the candidates, the request params may influence the choice.
	// It returns false if candidates is empty, the caller must treat this as a discovery failure.
	// Implementations are safe for concurrent use.
	Select(params map[string]any, candidates []common.ServiceMetaInfo) (common.ServiceMetaInfo, bool)
}

// New creates the load balancer registered under key
func New(key string) (ILoadBalancer, bool) {
	switch key {
	case KeyRoundRobin:
		return NewRoundRobinLoadBalancer(), true
	case KeyConsistentHash:
		return NewConsistentHashLoadBalancer(), true
	case KeyRandom:
		return NewRandomLoadBalancer(), true
	default:
		return nil, false
	}
}
