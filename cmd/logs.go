package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"regexp"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/spf13/cobra"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's log file",
		Long: `Prints today's daemon log, or the file named by logging.file.path.

Examples:
  # Follow the log
  foresight logs -f

  # Last 50 lines from the kernel proxy only
  foresight logs --tail 50 --component kernel`,
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of the log (default: all)")
	cmd.Flags().String("component", "", "Only lines from this component")
	cmd.Flags().String("file", "", "Read this log file instead of the configured one")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")
	component, _ := cmd.Flags().GetString("component")
	path, _ := cmd.Flags().GetString("file")

	if path == "" {
		path = configuredLogFile(cli.GetOptions(cmd))
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "no log file").WithDetail("path", path)
	}

	out := cmd.OutOrStdout()
	filter := componentFilter(component)

	offset, err := tailOffset(path, tailLines)
	if err != nil {
		return err
	}

	if !follow {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := scanner.Text(); filter(line) {
				fmt.Fprintln(out, line)
			}
		}
		return scanner.Err()
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()

	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		if filter(line.Text) {
			fmt.Fprintln(out, line.Text)
		}
	}
	return nil
}

// configuredLogFile resolves the file the daemon writes to with the
// current configuration, falling back to defaults.
func configuredLogFile(opts cli.CommandOptions) string {
	var logCfg logging.Config
	if path, err := cli.InitConfig(opts.ConfigFile); err == nil && path != "" {
		if cfg, err := config.Load(path); err == nil {
			_ = cfg.UnmarshalExtension("logging", &logCfg)
		}
	}
	return logging.LogFilePath(logCfg)
}

// tailOffset returns the byte offset of the last n lines of path, or 0
// when n is negative.
func tailOffset(path string, n int) (int64, error) {
	if n < 0 {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var starts []int64
	var pos int64
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			starts = append(starts, pos)
			pos += int64(len(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if n == 0 {
		return pos, nil
	}
	if n >= len(starts) {
		return 0, nil
	}
	return starts[len(starts)-n], nil
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// componentFilter matches text lines tagged [component] and JSON lines
// with a matching component field.
func componentFilter(component string) func(string) bool {
	if component == "" {
		return func(string) bool { return true }
	}
	return func(line string) bool {
		if strings.HasPrefix(line, "{") {
			var entry struct {
				Component string `json:"component"`
			}
			if json.Unmarshal([]byte(line), &entry) == nil {
				return entry.Component == component
			}
		}
		line = ansiEscape.ReplaceAllString(line, "")
		return strings.Contains(line, "["+component+"]") || strings.Contains(line, "component="+component)
	}
}
