package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error taxonomy
// --------------------------------------------------------------------------

// Every error returned by the rpc packages wraps exactly one of these sentinels,
// use errors.Is to classify a failure.
var (
	// ErrProtocol is returned for malformed, truncated or unknown frames
	ErrProtocol = errors.New("protocol error")
	// ErrConnection is returned when connecting, writing or reading fails
	ErrConnection = errors.New("connection error")
	// ErrTimeout is returned when no response arrived in time
	ErrTimeout = errors.New("timeout")
	// ErrDiscovery is returned when no endpoint could be found for a service
	ErrDiscovery = errors.New("discovery error")
	// ErrInvocation is returned when the remote handler failed
	ErrInvocation = errors.New("invocation error")
	// ErrRegistration is returned when the coordination service rejects or misses a registration
	ErrRegistration = errors.New("registration error")
	// ErrSerialization is returned on malformed input or type mismatch while (de)serializing
	ErrSerialization = errors.New("serialization error")
	// ErrClosed is returned when a closed client or server is used
	ErrClosed = errors.New("closed")
)

// InvocationError carries the error a remote handler reported in its response.
type InvocationError struct {
	Service string
	Method  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %s", ErrInvocation, e.Service, e.Method, e.Message)
}

func (e *InvocationError) Is(target error) bool {
	return target == ErrInvocation
}

// IsTransportError reports whether err is a connection or timeout failure.
// Only those are eligible for retries, the request may never have reached the server.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
