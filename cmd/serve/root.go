package serve

import (
	"context"
	"errors"
	"github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/lib/echo"
	"github.com/ValentinKolb/dRPC/rpc/bootstrap"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/server"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("server")

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a dRPC provider",
		Long: `Start a provider serving the echo service and publish it in the registry.
The configuration can be set via command line flags or environment variables. The format of the environment variables is DRPC_<flag> (e.g. DRPC_REGISTRY_ADDRESS=127.0.0.1:2379)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupRegistryFlags(ServeCmd)
	cmdUtil.SetupTCPFlags(ServeCmd)

	key := "host"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1", cmdUtil.WrapString("The host the provider listens on and publishes in the registry"))

	key = "port"
	ServeCmd.PersistentFlags().Int(key, 8080, cmdUtil.WrapString("The port the provider listens on (0 picks a free port)"))

	key = "max-workers"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Maximum number of requests handled concurrently per connection"))

	key = "idle-timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Close connections that sent no frame for this many seconds (0 disables)"))

	key = "write-timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Timeout for writing a single response in milliseconds (0 disables)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of an HTTP endpoint exposing metrics at /metrics (e.g. 127.0.0.1:9090). Empty disables it"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Host = viper.GetString("host")
	serveCmdConfig.Port = viper.GetInt("port")
	serveCmdConfig.MaxWorkersPerConn = viper.GetInt("max-workers")
	serveCmdConfig.IdleTimeoutSecond = viper.GetInt64("idle-timeout")
	serveCmdConfig.WriteTimeoutMillisecond = viper.GetInt64("write-timeout")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.TCP = cmdUtil.GetTCPConf()

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the provider and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApplication(cmdUtil.GetRegistryConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			Logger.Warningf("closing the registry failed: %v", err)
		}
	}()

	provider := app.NewProvider(serveCmdConfig)
	if err := provider.RegisterService(server.NewEchoServiceDesc(echo.NewEcho())); err != nil {
		return err
	}
	if err := provider.Listen(ctx); err != nil {
		return err
	}
	Logger.Infof("serving on %s", provider.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(provider.Serve)

	var metricsServer *http.Server
	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer = newMetricsServer(serveCmdConfig.MetricsEndpoint)
		g.Go(func() error {
			Logger.Infof("metrics available at http://%s/metrics", serveCmdConfig.MetricsEndpoint)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		Logger.Infof("shutting down")
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return provider.Shutdown()
	})

	return g.Wait()
}

func newMetricsServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
