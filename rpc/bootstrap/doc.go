// Package bootstrap wires providers and consumers from configuration.
//
// An Application holds the plugin resolver and the connected registry of a process.
// It replaces annotation driven wiring with explicit calls:
//
//	app, err := bootstrap.NewApplication(registryConfig)
//	if err != nil {
//		panic(err)
//	}
//	defer app.Close()
//
//	provider := app.NewProvider(serverConfig)
//	_ = provider.RegisterService(server.NewEchoServiceDesc(echo.NewEcho()))
//
//	consumer, err := app.NewConsumer(clientConfig)
//	e := client.NewRPCEcho(consumer)
//
// NewApplication also installs the W3C trace context propagator, so spans started by
// consumers continue on the providers.
package bootstrap
