package main

import (
	"context"
	"os"

	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/cmd"
	"github.com/sage3/foresight/version"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"foresight",
		"Route SAGE3 board events to SmartBits and proxy their code to Jupyter kernels",
	)
	cli.SetVersionTemplate(rootCmd, version.GetInfo())

	rootCmd.AddCommand(cmd.NewRunCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewAppsCmd())
	rootCmd.AddCommand(cmd.NewBoardsCmd())
	rootCmd.AddCommand(cmd.NewPendingCmd())
	rootCmd.AddCommand(cmd.NewWatchCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cmd.NewPathsCmd())
	rootCmd.AddCommand(cli.NewVersionCommand("foresight"))
	cli.ApplyStyledHelpRecursive(rootCmd)

	executed, err := rootCmd.ExecuteContextC(context.Background())
	if err != nil {
		if executed == nil {
			executed = rootCmd
		}
		cli.NewErrorHandler(os.Stderr, cli.GetOptions(executed).Verbose).Handle(err)
		os.Exit(1)
	}
}
