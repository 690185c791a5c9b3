package cli

import "github.com/charmbracelet/lipgloss"

// palette is the small set of colors the CLI output uses.
var palette = struct {
	Red, Green, Yellow, Blue, Cyan, Violet, Orange, Muted lipgloss.AdaptiveColor
}{
	Red:    lipgloss.AdaptiveColor{Light: "#c0392b", Dark: "#ff6b6b"},
	Green:  lipgloss.AdaptiveColor{Light: "#1e8449", Dark: "#8ce99a"},
	Yellow: lipgloss.AdaptiveColor{Light: "#b7950b", Dark: "#ffd43b"},
	Blue:   lipgloss.AdaptiveColor{Light: "#1f618d", Dark: "#74c0fc"},
	Cyan:   lipgloss.AdaptiveColor{Light: "#117a65", Dark: "#66d9e8"},
	Violet: lipgloss.AdaptiveColor{Light: "#6c3483", Dark: "#b197fc"},
	Orange: lipgloss.AdaptiveColor{Light: "#ca6f1e", Dark: "#ffa94d"},
	Muted:  lipgloss.AdaptiveColor{Light: "#7f8c8d", Dark: "#868e96"},
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(palette.Orange)
	sectionStyle = lipgloss.NewStyle().Italic(true).Foreground(palette.Orange)
	commandStyle = lipgloss.NewStyle().Bold(true).Foreground(palette.Blue)
	flagStyle    = lipgloss.NewStyle().Foreground(palette.Violet)
	mutedStyle   = lipgloss.NewStyle().Foreground(palette.Muted)
	italicStyle  = lipgloss.NewStyle().Italic(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(palette.Red)

	// OKStyle and WarnStyle mark healthy and degraded values in command output.
	OKStyle   = lipgloss.NewStyle().Foreground(palette.Green)
	WarnStyle = lipgloss.NewStyle().Foreground(palette.Yellow)
	// LabelStyle renders the left column of key/value listings.
	LabelStyle = lipgloss.NewStyle().Bold(true).Foreground(palette.Cyan)
)

// Muted renders s in the muted color.
func Muted(s string) string { return mutedStyle.Render(s) }
