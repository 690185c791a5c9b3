package cmd

import (
	"fmt"

	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the files and directories foresight uses.
type PathsOutput struct {
	ConfigDir  string `json:"config_dir"`
	StateDir   string `json:"state_dir"`
	LogDir     string `json:"log_dir"`
	RuntimeDir string `json:"runtime_dir"`
	Socket     string `json:"socket"`
	PidFile    string `json:"pid_file"`
}

// NewPathsCmd creates the `paths` command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by foresight",
		Long: `Print the paths used by foresight.

FORESIGHT_HOME relocates everything under one directory; otherwise the
XDG base directories apply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := PathsOutput{
				ConfigDir:  paths.ConfigDir(),
				StateDir:   paths.StateDir(),
				LogDir:     paths.LogDir(),
				RuntimeDir: paths.RuntimeDir(),
				Socket:     paths.SocketPath(),
				PidFile:    paths.PidFilePath(),
			}
			if cli.GetOptions(cmd).JSONOutput {
				return cli.PrintJSON(cmd, output)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", cli.LabelStyle.Render("config: "), output.ConfigDir)
			fmt.Fprintf(w, "%s %s\n", cli.LabelStyle.Render("state:  "), output.StateDir)
			fmt.Fprintf(w, "%s %s\n", cli.LabelStyle.Render("logs:   "), output.LogDir)
			fmt.Fprintf(w, "%s %s\n", cli.LabelStyle.Render("socket: "), output.Socket)
			fmt.Fprintf(w, "%s %s\n", cli.LabelStyle.Render("pidfile:"), output.PidFile)
			return nil
		},
	}
}
