package tolerant

import (
	"context"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("strategy")

// Plugin keys of the built-in fault tolerance strategies
const (
	KeyFailFast = "failFast"
	KeyFailOver = "failOver"
	KeyFailSafe = "failSafe"
)

// Keys of the context map passed to DoTolerant
const (
	CtxService    = "service"
	CtxMethod     = "method"
	CtxEndpoint   = "endpoint"   // common.ServiceMetaInfo that failed
	CtxCandidates = "candidates" // []common.ServiceMetaInfo from discovery
	CtxRequest    = "request"    // *common.Request
)

// ITolerantStrategy decides the final outcome once the retry strategy gave up.
type ITolerantStrategy interface {
	// DoTolerant receives the last failure and either propagates it or substitutes a response
	DoTolerant(ctx context.Context, tolerantCtx map[string]any, err error) (*common.Response, error)
}

// New creates the fault tolerance strategy registered under key
func New(key string) (ITolerantStrategy, bool) {
	switch key {
	case KeyFailFast:
		return NewFailFastTolerantStrategy(), true
	case KeyFailOver:
		return NewFailOverTolerantStrategy(nil), true
	case KeyFailSafe:
		return NewFailSafeTolerantStrategy(), true
	default:
		return nil, false
	}
}

// --------------------------------------------------------------------------
// Fail fast
// --------------------------------------------------------------------------

// NewFailFastTolerantStrategy propagates the failure unchanged
func NewFailFastTolerantStrategy() ITolerantStrategy {
	return failFast{}
}

type failFast struct{}

func (failFast) DoTolerant(_ context.Context, _ map[string]any, err error) (*common.Response, error) {
	return nil, err
}

// --------------------------------------------------------------------------
// Fail over
// --------------------------------------------------------------------------

// RerouteFunc sends the failed request to another endpoint
type RerouteFunc func(ctx context.Context, tolerantCtx map[string]any, err error) (*common.Response, error)

// NewFailOverTolerantStrategy hands the failure to reroute.
// Without a reroute function it logs the failure and returns a degraded, empty response.
func NewFailOverTolerantStrategy(reroute RerouteFunc) ITolerantStrategy {
	return &failOver{reroute: reroute}
}

type failOver struct {
	reroute RerouteFunc
}

func (f *failOver) DoTolerant(ctx context.Context, tolerantCtx map[string]any, err error) (*common.Response, error) {
	if f.reroute != nil {
		return f.reroute(ctx, tolerantCtx, err)
	}
	Logger.Warningf("fail over: no reroute configured for %v.%v, returning degraded response: %v",
		tolerantCtx[CtxService], tolerantCtx[CtxMethod], err)
	return &common.Response{Message: "degraded"}, nil
}

// --------------------------------------------------------------------------
// Fail safe
// --------------------------------------------------------------------------

// NewFailSafeTolerantStrategy swallows the failure and returns an empty response
func NewFailSafeTolerantStrategy() ITolerantStrategy {
	return failSafe{}
}

type failSafe struct{}

func (failSafe) DoTolerant(_ context.Context, tolerantCtx map[string]any, err error) (*common.Response, error) {
	Logger.Infof("fail safe: ignoring failure of %v.%v: %v", tolerantCtx[CtxService], tolerantCtx[CtxMethod], err)
	return &common.Response{}, nil
}
