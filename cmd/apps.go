package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sage3/foresight/cli"
	"github.com/sage3/foresight/pkg/daemon"
	"github.com/sage3/foresight/pkg/registry"
	"github.com/spf13/cobra"
)

const queryTimeout = 5 * time.Second

// NewAppsCmd creates the `apps` command.
func NewAppsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the SmartBits the daemon is tracking",
		Long: `List the SmartBits the daemon is tracking.

Examples:
  # Every app, one per line
  foresight apps

  # Code cells in one room, with their state
  foresight apps --room r-1 --type SageCell --state --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			withState, _ := cmd.Flags().GetBool("state")
			room, _ := cmd.Flags().GetString("room")
			appType, _ := cmd.Flags().GetString("type")

			client, err := daemon.Connect("")
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()
			apps, err := client.Apps(ctx, withState)
			if err != nil {
				return err
			}
			apps = filterApps(apps, room, appType)

			if cli.GetOptions(cmd).JSONOutput {
				return cli.PrintJSON(cmd, apps)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, cli.LabelStyle.Render("ID")+"\tTYPE\tROOM\tBOARD\tUPDATED")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", a.ID, a.Type, a.RoomID, a.BoardID, a.UpdatedAt)
				if withState {
					state, _ := json.Marshal(a.State)
					fmt.Fprintf(w, "\t%s\n", cli.Muted(string(state)))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("state", false, "Include each app's state")
	cmd.Flags().String("room", "", "Only apps in this room")
	cmd.Flags().String("type", "", "Only apps of this type")
	return cmd
}

func filterApps(apps []registry.AppInfo, room, appType string) []registry.AppInfo {
	if room == "" && appType == "" {
		return apps
	}
	out := apps[:0]
	for _, a := range apps {
		if room != "" && a.RoomID != room {
			continue
		}
		if appType != "" && !strings.EqualFold(a.Type, appType) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// NewBoardsCmd creates the `boards` command.
func NewBoardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List boards and the apps placed on them",
		RunE: func(cmd *cobra.Command, args []string) error {
			room, _ := cmd.Flags().GetString("room")

			client, err := daemon.Connect("")
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()
			boards, err := client.Boards(ctx, room)
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return cli.PrintJSON(cmd, boards)
			}
			for _, b := range boards {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", cli.LabelStyle.Render(b.ID),
					cli.Muted("room "+b.RoomID), fmt.Sprintf("(%d apps)", len(b.Apps)))
				for _, id := range b.Apps {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("room", "", "Only boards in this room")
	return cmd
}

// NewPendingCmd creates the `pending` command.
func NewPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List kernel executions awaiting a result",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemon.Connect("")
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
			defer cancel()
			pending, err := client.Pending(ctx)
			if err != nil {
				return err
			}

			if cli.GetOptions(cmd).JSONOutput {
				return cli.PrintJSON(cmd, pending)
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.Muted("No pending executions"))
				return nil
			}
			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, cli.LabelStyle.Render("REQUEST")+"\tAPP\tKERNEL\tAGE\tEXPIRES IN")
			for _, p := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.RequestID, p.AppID, p.Kernel,
					now.Sub(p.SubmittedAt).Round(time.Second), p.Deadline.Sub(now).Round(time.Second))
			}
			return w.Flush()
		},
	}
}

// NewWatchCmd creates the `watch` command.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream registry changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := daemon.Connect("")
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			changes, err := client.StreamChanges(ctx)
			if err != nil {
				return err
			}
			jsonOut := cli.GetOptions(cmd).JSONOutput
			for c := range changes {
				if jsonOut {
					data, _ := json.Marshal(c)
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-8s %s %s\n",
					cli.Muted(time.Now().Format("15:04:05")), changeLabel(c.Type), c.AppID,
					cli.Muted(fmt.Sprintf("%s room=%s board=%s", c.AppType, c.RoomID, c.BoardID)))
			}
			return nil
		},
	}
}

func changeLabel(t registry.ChangeType) string {
	switch t {
	case registry.ChangeCreated:
		return cli.OKStyle.Render(string(t))
	case registry.ChangeRemoved:
		return cli.WarnStyle.Render(string(t))
	default:
		return string(t)
	}
}
