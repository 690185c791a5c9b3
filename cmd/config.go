package cmd

import (
	"fmt"

	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the `config` command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate foresight configuration",
	}
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of foresight.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a configuration file against the schema and rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			if len(args) == 1 {
				opts.ConfigFile = args[0]
			}
			_, path, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}
			if path == "" {
				path = "environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cli.OKStyle.Render("valid:"), path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			cfg, path, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Server.Token != "" {
				shown.Server.Token = "<redacted>"
			}
			if shown.Redis.Password != "" {
				shown.Redis.Password = "<redacted>"
			}

			if opts.JSONOutput {
				return cli.PrintJSON(cmd, shown)
			}
			if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# Source: %s\n", path)
			}
			data, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
