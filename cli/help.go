package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	maxWidth = 72
	minWidth = 40

	examplesMarker = "\nExamples:\n"
)

// getTerminalWidth returns the terminal width capped at maxWidth.
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < minWidth {
		return maxWidth
	}
	if width > maxWidth {
		return maxWidth
	}
	return width
}

// wrapText wraps text to the specified width, preserving existing line breaks.
func wrapText(text string, width int) string {
	if width <= 0 {
		width = maxWidth
	}

	var result []string
	for _, paragraph := range strings.Split(text, "\n") {
		if len(paragraph) <= width {
			result = append(result, paragraph)
			continue
		}

		var line string
		for _, word := range strings.Fields(paragraph) {
			if line == "" {
				line = word
			} else if len(line)+1+len(word) <= width {
				line += " " + word
			} else {
				result = append(result, line)
				line = word
			}
		}
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}

// ApplyStyledHelpRecursive installs the foresight help layout on cmd and
// every subcommand. Call it after all subcommands have been added.
func ApplyStyledHelpRecursive(cmd *cobra.Command) {
	cmd.SetHelpFunc(styledHelpFunc)
	// Errors go through ErrorHandler, not a usage dump.
	cmd.SetUsageFunc(func(*cobra.Command) error { return nil })
	for _, sub := range cmd.Commands() {
		ApplyStyledHelpRecursive(sub)
	}
}

func styledHelpFunc(cmd *cobra.Command, _ []string) {
	w := cmd.OutOrStdout()
	width := getTerminalWidth() - 2

	fmt.Fprintln(w, " "+titleStyle.Render(strings.ToUpper(cmd.CommandPath())))
	writeWrapped(w, cmd.Short, width, italicStyle.Render)

	description, examples := cmd.Long, cmd.Example
	if idx := strings.Index(description, examplesMarker); idx != -1 {
		if examples == "" {
			examples = strings.TrimSpace(description[idx+len(examplesMarker):])
		}
		description = strings.TrimSpace(description[:idx])
	}
	if description != "" && description != cmd.Short {
		fmt.Fprintln(w)
		writeWrapped(w, description, width, nil)
	}

	fmt.Fprintln(w, "\n "+sectionStyle.Render("USAGE"))
	if cmd.Runnable() {
		fmt.Fprintf(w, " %s\n", cmd.UseLine())
	}
	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, " %s [command]\n", cmd.CommandPath())

		var rows [][2]string
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				rows = append(rows, [2]string{commandStyle.Render(sub.Name()), sub.Short})
			}
		}
		writeTable(w, "COMMANDS", rows)
	}

	writeTable(w, "FLAGS", flagRows(cmd.LocalFlags()))
	writeTable(w, "GLOBAL FLAGS", flagRows(cmd.InheritedFlags()))

	if examples != "" {
		fmt.Fprintln(w, "\n "+sectionStyle.Render("EXAMPLES"))
		for _, line := range strings.Split(examples, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				fmt.Fprintln(w)
			case strings.HasPrefix(line, "#"):
				fmt.Fprintln(w, " "+mutedStyle.Render(line))
			default:
				fmt.Fprintln(w, "   "+line)
			}
		}
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "\n Use \"%s [command] --help\" for more information.\n", cmd.CommandPath())
	}
}

func writeWrapped(w io.Writer, text string, width int, render func(...string) string) {
	if text == "" {
		return
	}
	for _, line := range strings.Split(wrapText(text, width), "\n") {
		if render != nil {
			line = render(line)
		}
		fmt.Fprintln(w, " "+line)
	}
}

// writeTable prints an aligned two-column section; empty sections are skipped.
func writeTable(w io.Writer, title string, rows [][2]string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w, "\n "+sectionStyle.Render(title))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(tw, " %s\t%s\n", row[0], row[1])
	}
	_ = tw.Flush()
}

func flagRows(flags *pflag.FlagSet) [][2]string {
	var rows [][2]string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		name := "    --" + f.Name
		if f.Shorthand != "" {
			name = fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
		}
		usage := f.Usage
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "[]" && f.DefValue != "0" {
			usage += mutedStyle.Render(fmt.Sprintf(" (default: %s)", f.DefValue))
		}
		rows = append(rows, [2]string{flagStyle.Render(name), usage})
	})
	return rows
}
