package echo

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/lib/echo"
	"github.com/ValentinKolb/dRPC/rpc/bootstrap"
	"github.com/ValentinKolb/dRPC/rpc/client"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
)

var (
	app      *bootstrap.Application
	consumer *client.RPCClient
	rpcEcho  echo.IEcho

	// EchoCommands represents the echo command group
	EchoCommands = &cobra.Command{
		Use:                "echo",
		Short:              "Call the echo service",
		PersistentPreRunE:  setupEchoClient,
		PersistentPostRunE: closeEchoClient,
	}

	identityCmd = &cobra.Command{
		Use:   "identity [text]",
		Short: "Returns the text unchanged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rpcEcho.Identity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	upperCmd = &cobra.Command{
		Use:   "upper [text]",
		Short: "Returns the text in upper case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rpcEcho.Upper(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	failCmd = &cobra.Command{
		Use:   "fail [message]",
		Short: "Makes the remote handler fail with the message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := rpcEcho.Fail(cmd.Context(), args[0])
			if err == nil {
				return fmt.Errorf("the call did not fail")
			}
			fmt.Printf("remote error: %v\n", err)
			return nil
		},
	}
	sleepCmd = &cobra.Command{
		Use:   "sleep [milliseconds]",
		Short: "Lets the provider sleep before answering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("milliseconds must be a number: %w", err)
			}
			slept, err := rpcEcho.Sleep(cmd.Context(), ms)
			if err != nil {
				return err
			}
			fmt.Printf("slept %d ms\n", slept)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(EchoCommands)

	EchoCommands.AddCommand(identityCmd)
	EchoCommands.AddCommand(upperCmd)
	EchoCommands.AddCommand(failCmd)
	EchoCommands.AddCommand(sleepCmd)
	EchoCommands.AddCommand(benchCmd)
}

// setupEchoClient connects the consumer used by all echo commands
func setupEchoClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}
	if cmd.Context() == nil {
		cmd.SetContext(context.Background())
	}

	var err error
	app, err = util.NewApplication()
	if err != nil {
		return err
	}
	consumer, err = app.NewConsumer(util.GetClientConfig())
	if err != nil {
		_ = app.Close()
		return err
	}
	rpcEcho = client.NewRPCEcho(consumer)
	return nil
}

func closeEchoClient(_ *cobra.Command, _ []string) error {
	var result *multierror.Error
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if app != nil {
		if err := app.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
