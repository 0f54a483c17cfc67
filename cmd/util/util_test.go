package util

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func newFlaggedCommand(t *testing.T) *cobra.Command {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupRPCClientFlags(cmd)
	cmd.PersistentFlags().String("serializer", "json", "")
	require.NoError(t, viper.BindPFlags(cmd.PersistentFlags()))
	return cmd
}

func TestClientConfigDefaults(t *testing.T) {
	newFlaggedCommand(t)

	conf := GetClientConfig()
	assert.Empty(t, conf.Endpoints)
	assert.Equal(t, int64(common.DefaultClientTimeoutMillisecond), conf.TimeoutMillisecond)
	assert.Equal(t, common.DefaultLoadBalancer, conf.LoadBalancer)
	assert.Equal(t, common.DefaultRetryStrategy, conf.RetryStrategy)
	assert.Equal(t, common.DefaultTolerantStrategy, conf.TolerantStrategy)
	assert.Equal(t, common.DefaultRetryConfig(), conf.Retry)
	assert.Equal(t, common.DefaultTCPConf(), conf.TCP)

	reg := GetRegistryConfig()
	assert.Equal(t, common.DefaultRegistryConfig(), reg)
}

func TestClientConfigOverrides(t *testing.T) {
	newFlaggedCommand(t)
	viper.Set("endpoint", "127.0.0.1:8080,127.0.0.1:8081")
	viper.Set("retry", "grpc")
	viper.Set("retry-attempts", 7)
	viper.Set("tcp-keepalive", 0)
	viper.Set("tcp-read-buffer", 64)

	conf := GetClientConfig()
	assert.Equal(t, []string{"127.0.0.1:8080", "127.0.0.1:8081"}, conf.Endpoints)
	assert.Equal(t, "grpc", conf.RetryStrategy)
	assert.Equal(t, 7, conf.Retry.MaxAttempts)
	assert.False(t, conf.TCP.KeepAlive)
	assert.Equal(t, time.Duration(0), conf.TCP.KeepAlivePeriod)
	assert.Equal(t, 64*1024, conf.TCP.ReadBufferSize)
}

func TestApplicationWithoutRegistryForStaticEndpoints(t *testing.T) {
	newFlaggedCommand(t)
	viper.Set("endpoint", "127.0.0.1:8080")
	viper.Set("registry", "etcd")

	app, err := NewApplication()
	require.NoError(t, err)
	assert.Nil(t, app.Registry)
	assert.NoError(t, app.Close())
}
