package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/cmd/echo"
	"github.com/ValentinKolb/dRPC/cmd/inspect"
	"github.com/ValentinKolb/dRPC/cmd/serve"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/spf13/cobra"
	"os"
	"strings"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "drpc",
		Short: "lightweight RPC framework",
		Long: fmt.Sprintf(`dRPC (v%s)

A lightweight RPC framework written in Go: a binary TCP protocol,
pluggable serializers, load balancers, retry and fault tolerance
strategies, and service discovery through etcd, ZooKeeper or redis.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dRPC",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dRPC v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(echo.EchoCommands)
	RootCmd.AddCommand(inspect.PingCmd)
	RootCmd.AddCommand(inspect.DiscoverCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, serializer.KeyJSON, util.WrapString(fmt.Sprintf("serializer to use (%s)", strings.Join(serializer.Keys(), ", "))))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
