package server

import (
	"context"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
)

// MethodHandler is one invocable method of a service.
// Handlers are built with Method or NoArgMethod, they decode the arguments,
// call the implementation and encode its result.
type MethodHandler interface {
	// ParameterTypeNames returns the declared parameter types, in order
	ParameterTypeNames() []string
	// Invoke decodes args with s, runs the method and returns the encoded result and its type name.
	// An error returned by the implementation is passed through unchanged.
	Invoke(ctx context.Context, args [][]byte, s serializer.IRPCSerializer) (data []byte, typeName string, err error)
}

// ServiceDesc describes a service implementation: the dispatch table of its methods by name.
type ServiceDesc struct {
	Name    string
	Version string
	Methods map[string]MethodHandler
}
