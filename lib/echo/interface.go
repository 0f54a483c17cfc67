package echo

import "context"

// ServiceName is the name the echo service is registered and discovered under
const ServiceName = "Echo"

// IEcho defines the interface of the echo service.
type IEcho interface {
	// Identity returns s unchanged.
	Identity(ctx context.Context, s string) (string, error)

	// Upper returns s in upper case.
	Upper(ctx context.Context, s string) (string, error)

	// Fail always returns an error carrying msg.
	Fail(ctx context.Context, msg string) (string, error)

	// Sleep waits for ms milliseconds or until ctx is done and returns the time actually slept in milliseconds.
	Sleep(ctx context.Context, ms int64) (int64, error)
}
