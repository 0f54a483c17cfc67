package inspect

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/lib/echo"
	"github.com/ValentinKolb/dRPC/rpc/bootstrap"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"time"
)

var (
	// PingCmd measures the round trip to providers with heartbeat frames
	PingCmd = &cobra.Command{
		Use:     "ping [service]",
		Short:   "Send heartbeats to the providers of a service",
		Long:    "Send heartbeats to every provider given by --endpoint or, without it, to every provider of the service found in the registry",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: bindFlags,
		RunE:    runPing,
	}

	// DiscoverCmd lists the providers of a service
	DiscoverCmd = &cobra.Command{
		Use:     "discover [service]",
		Short:   "List the providers of a service registered in the registry",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: bindFlags,
		RunE:    runDiscover,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(PingCmd)
	PingCmd.Flags().Int("count", 3, util.WrapString("Number of heartbeats per provider"))
	PingCmd.Flags().Duration("interval", time.Second, util.WrapString("Pause between two heartbeats"))

	util.SetupRegistryFlags(DiscoverCmd)
	DiscoverCmd.PersistentFlags().String("service-version", common.DefaultServiceVersion, util.WrapString("Version of the service"))
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

func serviceName(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return echo.ServiceName
}

func runPing(_ *cobra.Command, args []string) error {
	service := serviceName(args)
	config := util.GetClientConfig()

	endpoints, err := providers(service, config)
	if err != nil {
		return err
	}

	t, err := tcp.NewTCPClientTransport(config)
	if err != nil {
		return err
	}
	defer t.Close()

	count := viper.GetInt("count")
	interval := viper.GetDuration("interval")
	for _, endpoint := range endpoints {
		fmt.Printf("PING %s (%s)\n", endpoint.ServiceAddress(), endpoint.ServiceKey())
		var lost int
		for i := 0; i < count; i++ {
			if i > 0 {
				time.Sleep(interval)
			}
			rtt, err := t.Ping(context.Background(), endpoint)
			if err != nil {
				lost++
				fmt.Printf("  seq=%d error: %v\n", i, err)
				continue
			}
			fmt.Printf("  seq=%d time=%s\n", i, rtt)
		}
		fmt.Printf("  %d sent, %d lost\n", count, lost)
	}
	return nil
}

func runDiscover(_ *cobra.Command, args []string) error {
	app, err := bootstrap.NewApplication(util.GetRegistryConfig())
	if err != nil {
		return err
	}
	defer app.Close()

	serviceKey := common.ServiceKey(serviceName(args), viper.GetString("service-version"))
	metas, err := app.Registry.ServiceDiscovery(context.Background(), serviceKey)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d provider(s)\n", serviceKey, len(metas))
	for _, meta := range metas {
		fmt.Printf("  %s\n", meta.ServiceAddress())
	}
	return nil
}

// providers returns the static endpoints if given, otherwise the registered providers of service
func providers(service string, config common.ClientConfig) ([]common.ServiceMetaInfo, error) {
	if len(config.Endpoints) > 0 {
		endpoints := make([]common.ServiceMetaInfo, 0, len(config.Endpoints))
		for _, address := range config.Endpoints {
			endpoint, err := common.ParseEndpoint(address, service, config.ServiceVersion)
			if err != nil {
				return nil, fmt.Errorf("invalid endpoint %q: %w", address, err)
			}
			endpoints = append(endpoints, endpoint)
		}
		return endpoints, nil
	}

	app, err := bootstrap.NewApplication(util.GetRegistryConfig())
	if err != nil {
		return nil, err
	}
	defer app.Close()

	metas, err := app.Registry.ServiceDiscovery(context.Background(), common.ServiceKey(service, config.ServiceVersion))
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: no provider registered for %s", common.ErrDiscovery, common.ServiceKey(service, config.ServiceVersion))
	}
	return metas, nil
}
