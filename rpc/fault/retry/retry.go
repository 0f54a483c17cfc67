package retry

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"math"
	"math/rand"
	"time"
)

var Logger = logger.GetLogger("strategy")

// Plugin keys of the built-in retry strategies
const (
	KeyNo            = "no"
	KeyFixedInterval = "fixedInterval"
	KeyExponential   = "grpc"
)

// Attempt performs one request
type Attempt func() (*common.Response, error)

// IRetryStrategy wraps a single attempt and re-invokes it on failure.
// Strategies never inspect the attempt's side effects.
type IRetryStrategy interface {
	// DoRetry calls attempt until it succeeds or the policy gives up. Errors other than
	// common.ErrConnection and common.ErrTimeout end the loop immediately.
	// If all attempts fail the last error is returned wrapped, so errors.Is still matches it.
	DoRetry(ctx context.Context, attempt Attempt) (*common.Response, error)
}

// New creates the retry strategy registered under key
func New(key string, conf common.RetryConfig) (IRetryStrategy, bool) {
	switch key {
	case KeyNo:
		return NewNoRetryStrategy(), true
	case KeyFixedInterval:
		return NewFixedIntervalRetryStrategy(conf), true
	case KeyExponential:
		return NewExponentialRetryStrategy(conf), true
	default:
		return nil, false
	}
}

// --------------------------------------------------------------------------
// No retry
// --------------------------------------------------------------------------

// NewNoRetryStrategy invokes the attempt exactly once
func NewNoRetryStrategy() IRetryStrategy {
	return noRetryStrategy{}
}

type noRetryStrategy struct{}

func (noRetryStrategy) DoRetry(_ context.Context, attempt Attempt) (*common.Response, error) {
	return attempt()
}

// --------------------------------------------------------------------------
// Fixed interval
// --------------------------------------------------------------------------

// NewFixedIntervalRetryStrategy waits InitialIntervalMillisecond between at most MaxAttempts attempts
func NewFixedIntervalRetryStrategy(conf common.RetryConfig) IRetryStrategy {
	return &backoffRetryStrategy{
		name:        KeyFixedInterval,
		maxAttempts: conf.MaxAttempts,
		wait: func(int) time.Duration {
			return time.Duration(conf.InitialIntervalMillisecond) * time.Millisecond
		},
	}
}

// --------------------------------------------------------------------------
// Jittered exponential
// --------------------------------------------------------------------------

// NewExponentialRetryStrategy waits min(max, initial*multiplier^(n-1)) perturbed by ±jitter after the n-th failed attempt
func NewExponentialRetryStrategy(conf common.RetryConfig) IRetryStrategy {
	return &backoffRetryStrategy{
		name:        KeyExponential,
		maxAttempts: conf.MaxAttempts,
		wait: func(n int) time.Duration {
			return JitterExponentialWait(n, conf, rand.Float64())
		},
	}
}

// ExponentialInterval returns the unperturbed wait in milliseconds after the n-th failed attempt (n >= 1)
func ExponentialInterval(n int, conf common.RetryConfig) float64 {
	interval := float64(conf.InitialIntervalMillisecond) * math.Pow(conf.Multiplier, float64(n-1))
	return math.Min(float64(conf.MaxIntervalMillisecond), interval)
}

// JitterExponentialWait perturbs the exponential interval by a uniform amount in [-interval*jitter, +interval*jitter].
// u is a sample from [0, 1). The result is never negative.
func JitterExponentialWait(n int, conf common.RetryConfig, u float64) time.Duration {
	interval := ExponentialInterval(n, conf)
	delta := interval * conf.Jitter * (2*u - 1)
	ms := math.Max(0, interval+delta)
	return time.Duration(ms * float64(time.Millisecond))
}

// --------------------------------------------------------------------------
// Shared retry loop
// --------------------------------------------------------------------------

type backoffRetryStrategy struct {
	name        string
	maxAttempts int
	wait        func(n int) time.Duration
}

func (s *backoffRetryStrategy) DoRetry(ctx context.Context, attempt Attempt) (*common.Response, error) {
	maxAttempts := s.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		resp, err := attempt()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// only connection and timeout failures may succeed on another attempt
		if !common.IsTransportError(err) {
			return nil, err
		}
		if n == maxAttempts {
			break
		}

		wait := s.wait(n)
		Logger.Debugf("%s: attempt %d/%d failed, retrying in %s: %v", s.name, n, maxAttempts, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry aborted after %d attempts (%v): %w", n, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("retry exhausted after %d attempts: %w", maxAttempts, lastErr)
}
