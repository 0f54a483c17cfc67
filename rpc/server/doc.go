// Package server implements the provider side of dRPC.
//
// Services are described by a ServiceDesc: a name, a version and a dispatch table mapping
// method names to MethodHandlers. Handlers are built from plain Go functions with the generic
// Method and NoArgMethod constructors, which take care of decoding the arguments with the
// serializer of the request and encoding the result.
//
// Key Components:
//
//   - RPCServer: Binds the transport, publishes every registered service in the registry under
//     the bound address and dispatches requests. Handler errors and panics are returned to the
//     caller inside the Response, they never break the connection.
//
//   - NewEchoServiceDesc: Adapter exposing lib/echo as the "Echo" service.
//
// Usage Example:
//
//	s := server.NewRPCServer(common.DefaultServerConfig(), tcp.NewTCPServerTransport(), reg)
//	err := s.RegisterService(server.ServiceDesc{
//		Name: "Greeter",
//		Methods: map[string]server.MethodHandler{
//			"hello": server.Method(func(ctx context.Context, name string) (string, error) {
//				return "hello " + name, nil
//			}),
//		},
//	})
//	err = s.Listen(ctx)
//	go s.Serve()
//	defer s.Shutdown()
package server
