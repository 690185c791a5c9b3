package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/internal/daemon/engine"
	"github.com/sage3/foresight/internal/daemon/pidfile"
	"github.com/sage3/foresight/pkg/daemon"
	"github.com/sage3/foresight/pkg/paths"
	"github.com/sage3/foresight/pkg/process"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the `status` command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Long: `Reports whether the daemon is running and, if so, its connection,
registry, execution and task state. Exits with status 1 when stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
				os.Exit(1) // Non-zero for scripts
			}

			client, err := daemon.Connect("")
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return cli.PrintJSON(cmd, status)
			}
			printStatus(cmd.OutOrStdout(), pid, status)
			return nil
		},
	}
}

func printStatus(w io.Writer, pid int, s *engine.Status) {
	label := func(name string) string { return cli.LabelStyle.Render(fmt.Sprintf("%-10s", name)) }
	state := func(ok bool, good, bad string) string {
		if ok {
			return cli.OKStyle.Render(good)
		}
		return cli.WarnStyle.Render(bad)
	}

	fmt.Fprintf(w, "%s %s (PID %d, up %s)\n", label("daemon"), cli.OKStyle.Render("running"), pid, s.Uptime)

	channel := state(s.Channel.Connected, "connected", "disconnected")
	fmt.Fprintf(w, "%s %s %s\n", label("channel"), channel, cli.Muted(s.Channel.Endpoint))
	if !s.Channel.LastSeen.IsZero() {
		fmt.Fprintf(w, "%s last frame %s ago, %d connects\n", label(""),
			time.Since(s.Channel.LastSeen).Round(time.Second), s.Channel.Connects)
	}
	if s.Channel.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", label(""), cli.WarnStyle.Render(s.Channel.LastError))
	}

	fmt.Fprintf(w, "%s %s %s\n", label("kernel"), state(s.Kernel.Healthy, "healthy", "unhealthy"), cli.Muted(s.Kernel.URL))
	if s.Kernel.Error != "" {
		fmt.Fprintf(w, "%s %s\n", label(""), cli.WarnStyle.Render(s.Kernel.Error))
	}

	fmt.Fprintf(w, "%s %d live, %d pending executions\n", label("apps"), s.Apps, s.Pending)
	fmt.Fprintf(w, "%s %d forwarded, %d suppressed, %d malformed\n", label("events"),
		s.Dedup.Forwarded, s.Dedup.Suppressed, s.Malformed)
	fmt.Fprintf(w, "%s %d delivered, %d unmatched, %d malformed\n", label("results"),
		s.Results.Delivered, s.Results.Unmatched, s.Results.Malformed)
	if s.DroppedActions > 0 {
		fmt.Fprintf(w, "%s %s\n", label("actions"), cli.WarnStyle.Render(fmt.Sprintf("%d dropped", s.DroppedActions)))
	}

	for _, t := range s.Tasks {
		line := fmt.Sprintf("%s every %s, %d runs", t.Name, t.Period, t.Runs)
		if t.Failures > 0 {
			line += cli.WarnStyle.Render(fmt.Sprintf(", %d failed", t.Failures))
		}
		fmt.Fprintf(w, "%s %s\n", label("task"), line)
	}
	fmt.Fprintf(w, "%s %s\n", label("variants"), cli.Muted(strings.Join(s.Variants, ", ")))
}

// NewStopCmd creates the `stop` command.
func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			if err := process.Terminate(pid); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to process %d\n", pid)

			wait, _ := cmd.Flags().GetDuration("wait")
			if wait <= 0 {
				return nil
			}
			if !process.WaitExit(pid, wait, 100*time.Millisecond) {
				return errors.New(errors.ErrCodeShutdownTimeout,
					fmt.Sprintf("daemon %d still running after %s", pid, wait))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
			return nil
		},
	}
	cmd.Flags().Duration("wait", 15*time.Second, "How long to wait for the daemon to exit (0 to return immediately)")
	return cmd
}
