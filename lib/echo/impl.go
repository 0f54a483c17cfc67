package echo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFail is returned by Fail
var ErrFail = errors.New("echo failure")

type echoImpl struct{}

// NewEcho creates the local echo implementation
func NewEcho() IEcho {
	return &echoImpl{}
}

func (e *echoImpl) Identity(_ context.Context, s string) (string, error) {
	return s, nil
}

func (e *echoImpl) Upper(_ context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}

func (e *echoImpl) Fail(_ context.Context, msg string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrFail, msg)
}

func (e *echoImpl) Sleep(ctx context.Context, ms int64) (int64, error) {
	if ms < 0 {
		return 0, fmt.Errorf("negative duration %d ms", ms)
	}
	start := time.Now()
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return time.Since(start).Milliseconds(), ctx.Err()
	}
	return time.Since(start).Milliseconds(), nil
}
