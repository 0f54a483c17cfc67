package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultClientTimeoutMillisecond   = 3000
	DefaultRegistryTimeoutMillisecond = 3000
	DefaultLeaseTTLSecond             = 300

	DefaultRetryInitialIntervalMillisecond = 1000
	DefaultRetryMaxIntervalMillisecond     = 30000
	DefaultRetryMaxAttempts                = 5
	DefaultRetryMultiplier                 = 1.5
	DefaultRetryJitter                     = 0.2

	DefaultSerializer       = "json"
	DefaultLoadBalancer     = "roundRobin"
	DefaultRetryStrategy    = "no"
	DefaultTolerantStrategy = "failFast"
	DefaultRegistry         = "etcd"
	DefaultRegistryAddress  = "127.0.0.1:2379"
)

// --------------------------------------------------------------------------
// Socket configuration (shared by client and server connectors)
// --------------------------------------------------------------------------

// SocketConf holds options that are applied to every net.Conn after it is established.
type SocketConf struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// TCPConf holds TCP specific socket options.
type TCPConf struct {
	SocketConf
	NoDelay         bool
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	// LingerSeconds is passed to SetLinger, negative keeps the OS default
	LingerSeconds   int
}

// DefaultTCPConf returns the socket options used when nothing else is configured.
func DefaultTCPConf() TCPConf {
	return TCPConf{
		SocketConf: SocketConf{
			ReadBufferSize:  512 * 1024,
			WriteBufferSize: 512 * 1024,
		},
		NoDelay:         true,
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
		LingerSeconds:   -1,
	}
}

// --------------------------------------------------------------------------
// Retry configuration
// --------------------------------------------------------------------------

// RetryConfig configures the fixed interval and the jittered exponential retry strategies.
type RetryConfig struct {
	InitialIntervalMillisecond int64
	MaxIntervalMillisecond     int64
	MaxAttempts                int
	Multiplier                 float64
	Jitter                     float64
}

// DefaultRetryConfig returns the default retry parameters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialIntervalMillisecond: DefaultRetryInitialIntervalMillisecond,
		MaxIntervalMillisecond:     DefaultRetryMaxIntervalMillisecond,
		MaxAttempts:                DefaultRetryMaxAttempts,
		Multiplier:                 DefaultRetryMultiplier,
		Jitter:                     DefaultRetryJitter,
	}
}

// --------------------------------------------------------------------------
// Registry configuration
// --------------------------------------------------------------------------

// RegistryConfig configures the connection to the coordination service.
type RegistryConfig struct {
	// Registry is the plugin key of the backend (etcd, zookeeper, redis, memory)
	Registry string
	// Address is a comma separated list of coordination service endpoints
	Address            string
	Username           string
	Password           string
	TimeoutMillisecond int64
	LeaseTTLSecond     int64
}

// DefaultRegistryConfig returns the default registry configuration.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Registry:           DefaultRegistry,
		Address:            DefaultRegistryAddress,
		TimeoutMillisecond: DefaultRegistryTimeoutMillisecond,
		LeaseTTLSecond:     DefaultLeaseTTLSecond,
	}
}

// Timeout returns the bound for a single registry operation.
func (c RegistryConfig) Timeout() time.Duration {
	if c.TimeoutMillisecond <= 0 {
		return DefaultRegistryTimeoutMillisecond * time.Millisecond
	}
	return time.Duration(c.TimeoutMillisecond) * time.Millisecond
}

// LeaseTTL returns the lifetime of a registration that is not renewed.
func (c RegistryConfig) LeaseTTL() time.Duration {
	if c.LeaseTTLSecond <= 0 {
		return DefaultLeaseTTLSecond * time.Second
	}
	return time.Duration(c.LeaseTTLSecond) * time.Second
}

// Endpoints splits Address into its individual endpoints.
func (c RegistryConfig) Endpoints() []string {
	var endpoints []string
	for _, e := range strings.Split(c.Address, ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}

// String returns a formatted string representation of the registry configuration
func (c *RegistryConfig) String() string {
	var sb strings.Builder
	addSection, addField := printer(&sb)

	addSection("Registry")
	addField("Backend", c.Registry)
	addField("Address", c.Address)
	addField("Timeout", fmt.Sprintf("%d ms", c.TimeoutMillisecond))
	addField("Lease TTL", fmt.Sprintf("%d sec", c.LeaseTTLSecond))
	if c.Username != "" {
		addField("Username", c.Username)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a service provider.
type ServerConfig struct {
	Host string
	Port int

	// MaxWorkersPerConn bounds the handlers running concurrently for one connection
	MaxWorkersPerConn int
	// IdleTimeoutSecond closes connections that did not send a frame for that long (0 disables)
	IdleTimeoutSecond int64
	// WriteTimeoutMillisecond bounds writing a single response frame (0 disables)
	WriteTimeoutMillisecond int64

	TCP TCPConf

	// HTTP endpoint serving metrics, empty disables it
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a server configuration listening on the loopback interface at port 8080.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              8080,
		MaxWorkersPerConn: 100,
		TCP:               DefaultTCPConf(),
		LogLevel:          "info",
	}
}

// Address returns host:port the server listens on.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder
	addSection, addField := printer(&sb)

	addSection("RPC Server")
	addField("Address", c.Address())
	addField("Max Workers / Conn", strconv.Itoa(c.MaxWorkersPerConn))
	addField("Idle Timeout", fmt.Sprintf("%d sec", c.IdleTimeoutSecond))
	addField("Write Timeout", fmt.Sprintf("%d ms", c.WriteTimeoutMillisecond))

	addSection("TCP")
	addField("No Delay", strconv.FormatBool(c.TCP.NoDelay))
	addField("Keep Alive", fmt.Sprintf("%t (%s)", c.TCP.KeepAlive, c.TCP.KeepAlivePeriod))
	addField("Linger", fmt.Sprintf("%d sec", c.TCP.LingerSeconds))
	addField("Buffers (r/w)", fmt.Sprintf("%d / %d", c.TCP.ReadBufferSize, c.TCP.WriteBufferSize))

	addSection("Observability")
	addField("Metrics Endpoint", c.MetricsEndpoint)
	addField("Log Level", c.LogLevel)
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of a service consumer.
type ClientConfig struct {
	// Endpoints are static host:port addresses, when set the registry is not consulted
	Endpoints []string
	// ServiceVersion is attached to every request and used to build the service key
	ServiceVersion string
	// TimeoutMillisecond bounds connect, write and response wait of a single attempt
	TimeoutMillisecond int64

	Serializer       string
	LoadBalancer     string
	RetryStrategy    string
	TolerantStrategy string
	Retry            RetryConfig

	// Mock makes typed stubs return zero values without any I/O
	Mock bool

	TCP TCPConf
}

// DefaultClientConfig returns the default consumer configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServiceVersion:     DefaultServiceVersion,
		TimeoutMillisecond: DefaultClientTimeoutMillisecond,
		Serializer:         DefaultSerializer,
		LoadBalancer:       DefaultLoadBalancer,
		RetryStrategy:      DefaultRetryStrategy,
		TolerantStrategy:   DefaultTolerantStrategy,
		Retry:              DefaultRetryConfig(),
		TCP:                DefaultTCPConf(),
	}
}

// Timeout returns the bound for a single request attempt.
func (c ClientConfig) Timeout() time.Duration {
	if c.TimeoutMillisecond <= 0 {
		return DefaultClientTimeoutMillisecond * time.Millisecond
	}
	return time.Duration(c.TimeoutMillisecond) * time.Millisecond
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder
	addSection, addField := printer(&sb)

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d ms", c.TimeoutMillisecond))
	addField("Service Version", c.ServiceVersion)
	addField("Serializer", c.Serializer)
	addField("Mock", strconv.FormatBool(c.Mock))

	addSection("Strategies")
	addField("Load Balancer", c.LoadBalancer)
	addField("Retry", c.RetryStrategy)
	addField("Tolerant", c.TolerantStrategy)
	if c.RetryStrategy != "no" {
		addField("Retry Interval", fmt.Sprintf("%d ms (max %d ms)", c.Retry.InitialIntervalMillisecond, c.Retry.MaxIntervalMillisecond))
		addField("Retry Attempts", strconv.Itoa(c.Retry.MaxAttempts))
		addField("Retry Multiplier", strconv.FormatFloat(c.Retry.Multiplier, 'f', 2, 64))
		addField("Retry Jitter", strconv.FormatFloat(c.Retry.Jitter, 'f', 2, 64))
	}

	if len(c.Endpoints) > 0 {
		addSection("Endpoints")
		for i, endpoint := range c.Endpoints {
			addField(strconv.Itoa(i), endpoint)
		}
	}

	return sb.String()
}

// printer returns the helpers used by all config printers for consistent formatting
func printer(sb *strings.Builder) (addSection func(string), addField func(string, string)) {
	addSection = func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField = func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	return addSection, addField
}
