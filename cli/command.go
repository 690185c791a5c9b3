package cli

import (
	"encoding/json"
	"os"

	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/errors"
	"github.com/spf13/cobra"
)

// CommandOptions holds common options for foresight commands
type CommandOptions struct {
	ConfigFile string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a new command with the standard persistent flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to foresight.yml config file")

	// Loggers are created lazily, so the level must be in the environment
	// before any command body runs.
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			os.Setenv("FORESIGHT_LOG_LEVEL", "debug")
		}
	}

	cmd.SetHelpFunc(styledHelpFunc)

	return cmd
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// InitConfig resolves the configuration file path. An empty result means
// no file was found, which some commands tolerate.
func InitConfig(configFile string) (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	foundConfigFile, err := config.FindConfigFile(cwd)
	if err != nil {
		return "", nil
	}
	return foundConfigFile, nil
}

// LoadConfig loads the configuration named by opts, the nearest file on the
// search path, or the environment when no file exists. It also returns the
// path that was loaded, empty for the environment.
func LoadConfig(opts CommandOptions) (*config.Config, string, error) {
	path, err := InitConfig(opts.ConfigFile)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to resolve config file")
	}
	if path == "" {
		cfg, err := config.FromEnv()
		return cfg, "", err
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// PrintJSON writes v to the command's output as indented JSON.
func PrintJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
