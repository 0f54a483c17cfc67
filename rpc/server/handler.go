package server

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"reflect"
	"strings"
)

// Method creates the handler of a method with exactly one argument
func Method[In, Out any](fn func(ctx context.Context, in In) (Out, error)) MethodHandler {
	return &method[In, Out]{
		params: []string{TypeName[In]()},
		result: TypeName[Out](),
		call: func(ctx context.Context, args [][]byte, s serializer.IRPCSerializer) (Out, error) {
			var in In
			if err := s.Deserialize(args[0], &in); err != nil {
				var zero Out
				return zero, err
			}
			return fn(ctx, in)
		},
	}
}

// NoArgMethod creates the handler of a method without arguments
func NoArgMethod[Out any](fn func(ctx context.Context) (Out, error)) MethodHandler {
	return &method[struct{}, Out]{
		params: []string{},
		result: TypeName[Out](),
		call: func(ctx context.Context, _ [][]byte, _ serializer.IRPCSerializer) (Out, error) {
			return fn(ctx)
		},
	}
}

// TypeName returns the name T is declared under in requests and responses
func TypeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

type method[In, Out any] struct {
	params []string
	result string
	call   func(ctx context.Context, args [][]byte, s serializer.IRPCSerializer) (Out, error)
}

func (m *method[In, Out]) ParameterTypeNames() []string {
	return m.params
}

func (m *method[In, Out]) Invoke(ctx context.Context, args [][]byte, s serializer.IRPCSerializer) ([]byte, string, error) {
	if len(args) != len(m.params) {
		return nil, "", fmt.Errorf("%w: expected %d arguments, got %d", common.ErrInvocation, len(m.params), len(args))
	}

	out, err := m.call(ctx, args, s)
	if err != nil {
		return nil, "", err
	}

	data, err := s.Serialize(out)
	if err != nil {
		return nil, "", err
	}
	return data, m.result, nil
}

// sameParameterTypes compares declared type names, pointer and value types of the same type are accepted
func sameParameterTypes(declared, requested []string) bool {
	if len(declared) != len(requested) {
		return false
	}
	for i := range declared {
		if strings.TrimLeft(declared[i], "*") != strings.TrimLeft(requested[i], "*") {
			return false
		}
	}
	return true
}
