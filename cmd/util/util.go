package util

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/bootstrap"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/registry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes every flag overridable by DRPC_<FLAG> (e.g. DRPC_REGISTRY_ADDRESS)
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("drpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// SetupRegistryFlags adds the flags describing the coordination service to a command
func SetupRegistryFlags(cmd *cobra.Command) {
	key := "registry"
	cmd.PersistentFlags().String(key, common.DefaultRegistry, WrapString(fmt.Sprintf("Registry backend (%s, %s, %s, %s)", registry.KeyEtcd, registry.KeyZooKeeper, registry.KeyRedis, registry.KeyMemory)))

	key = "registry-address"
	cmd.PersistentFlags().String(key, common.DefaultRegistryAddress, WrapString("Comma separated list of registry endpoints"))

	key = "registry-username"
	cmd.PersistentFlags().String(key, "", WrapString("Username for the registry"))

	key = "registry-password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for the registry"))

	key = "registry-timeout"
	cmd.PersistentFlags().Int64(key, common.DefaultRegistryTimeoutMillisecond, WrapString("Timeout of a single registry operation in milliseconds"))

	key = "lease-ttl"
	cmd.PersistentFlags().Int64(key, common.DefaultLeaseTTLSecond, WrapString("Time in seconds a registration stays visible without renewal"))
}

// GetRegistryConfig reads the registry configuration from viper
func GetRegistryConfig() common.RegistryConfig {
	return common.RegistryConfig{
		Registry:           viper.GetString("registry"),
		Address:            viper.GetString("registry-address"),
		Username:           viper.GetString("registry-username"),
		Password:           viper.GetString("registry-password"),
		TimeoutMillisecond: viper.GetInt64("registry-timeout"),
		LeaseTTLSecond:     viper.GetInt64("lease-ttl"),
	}
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds the consumer flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	SetupRegistryFlags(cmd)

	key := "endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("Comma separated host:port list of providers. When set, the registry is not used"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, common.DefaultClientTimeoutMillisecond, WrapString("Timeout of a single request attempt in milliseconds"))

	key = "service-version"
	cmd.PersistentFlags().String(key, common.DefaultServiceVersion, WrapString("Version of the called service"))

	key = "load-balancer"
	cmd.PersistentFlags().String(key, common.DefaultLoadBalancer, WrapString("Load balancer (roundRobin, consistentHash, random)"))

	key = "retry"
	cmd.PersistentFlags().String(key, common.DefaultRetryStrategy, WrapString("Retry strategy (no, fixedInterval, grpc)"))

	key = "retry-interval"
	cmd.PersistentFlags().Int64(key, common.DefaultRetryInitialIntervalMillisecond, WrapString("Initial wait between attempts in milliseconds"))

	key = "retry-max-interval"
	cmd.PersistentFlags().Int64(key, common.DefaultRetryMaxIntervalMillisecond, WrapString("Upper bound of the wait between attempts in milliseconds (grpc only)"))

	key = "retry-attempts"
	cmd.PersistentFlags().Int(key, common.DefaultRetryMaxAttempts, WrapString("Maximum number of attempts per call"))

	key = "retry-multiplier"
	cmd.PersistentFlags().Float64(key, common.DefaultRetryMultiplier, WrapString("Growth factor of the wait between attempts (grpc only)"))

	key = "retry-jitter"
	cmd.PersistentFlags().Float64(key, common.DefaultRetryJitter, WrapString("Relative random perturbation of the wait (grpc only)"))

	key = "tolerant"
	cmd.PersistentFlags().String(key, common.DefaultTolerantStrategy, WrapString("Fault tolerance strategy (failFast, failOver, failSafe)"))

	key = "mock"
	cmd.PersistentFlags().Bool(key, false, WrapString("Return zero values without contacting any provider"))

	SetupTCPFlags(cmd)
}

// GetClientConfig reads the consumer configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig()
	if endpoints := viper.GetString("endpoint"); endpoints != "" {
		conf.Endpoints = strings.Split(endpoints, ",")
	}
	conf.TimeoutMillisecond = viper.GetInt64("timeout")
	conf.ServiceVersion = viper.GetString("service-version")
	conf.Serializer = viper.GetString("serializer")
	conf.LoadBalancer = viper.GetString("load-balancer")
	conf.RetryStrategy = viper.GetString("retry")
	conf.TolerantStrategy = viper.GetString("tolerant")
	conf.Mock = viper.GetBool("mock")
	conf.Retry = common.RetryConfig{
		InitialIntervalMillisecond: viper.GetInt64("retry-interval"),
		MaxIntervalMillisecond:     viper.GetInt64("retry-max-interval"),
		MaxAttempts:                viper.GetInt("retry-attempts"),
		Multiplier:                 viper.GetFloat64("retry-multiplier"),
		Jitter:                     viper.GetFloat64("retry-jitter"),
	}
	conf.TCP = GetTCPConf()
	return conf
}

// SetupTCPFlags adds the socket options to a command
func SetupTCPFlags(cmd *cobra.Command) {
	key := "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 30, WrapString("The keepalive period in seconds (0 disables keepalive)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time in seconds (negative keeps the OS default)"))

	key = "tcp-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "tcp-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))
}

// GetTCPConf reads the socket options from viper
func GetTCPConf() common.TCPConf {
	keepAlive := viper.GetInt("tcp-keepalive")
	return common.TCPConf{
		SocketConf: common.SocketConf{
			ReadBufferSize:  viper.GetInt("tcp-read-buffer") * 1024,
			WriteBufferSize: viper.GetInt("tcp-write-buffer") * 1024,
		},
		NoDelay:         viper.GetBool("tcp-nodelay"),
		KeepAlive:       keepAlive > 0,
		KeepAlivePeriod: time.Duration(keepAlive) * time.Second,
		LingerSeconds:   viper.GetInt("tcp-linger"),
	}
}

// NewApplication connects to the configured registry.
// With static endpoints no registry is used, so calls work without a coordination service.
func NewApplication() (*bootstrap.Application, error) {
	conf := GetRegistryConfig()
	if viper.GetString("endpoint") != "" {
		conf.Registry = ""
	}
	return bootstrap.NewApplication(conf)
}
