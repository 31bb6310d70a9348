package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inboxpilot/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle renders field names in detail output.
var LabelStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGray).
	Width(12)

// PanelStyle wraps summaries and drafts.
var PanelStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// HelpStyle is used for hints and secondary text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// ErrorStyle renders failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// OKStyle renders successes.
var OKStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// PriorityStyle returns a color-coded style for a stored priority.
func PriorityStyle(p model.Priority) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch p {
	case model.PriorityHigh:
		return base.Foreground(ColorRed)
	case model.PriorityNormal:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}

// StateStyle returns a color-coded style for a processing state.
func StateStyle(s model.ProcessingState) lipgloss.Style {
	base := lipgloss.NewStyle().Padding(0, 1)

	switch s {
	case model.StateStored:
		return base.Foreground(ColorGreen)
	case model.StateFiltered:
		return base.Foreground(ColorGray)
	case model.StateErrored:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorMagenta)
	}
}

// Flag renders an optional boolean as yes, no or unknown.
func Flag(v *bool) string {
	switch {
	case v == nil:
		return HelpStyle.Render("unknown")
	case *v:
		return OKStyle.Render("yes")
	default:
		return ErrorStyle.Render("no")
	}
}
