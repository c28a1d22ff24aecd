package tui

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	accent      = lipgloss.Color("#8BC34A")
	primary     = lipgloss.Color("#2196F3")
	muted       = lipgloss.Color("#7a8599")
	destructive = lipgloss.Color("#e53935")
	warning     = lipgloss.Color("#FFC107")
)

// Styles holds the styled components of the chat view.
type Styles struct {
	Header    lipgloss.Style
	Footer    lipgloss.Style
	UserLabel lipgloss.Style
	BotLabel  lipgloss.Style
	Official  lipgloss.Style
	Community lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Input     lipgloss.Style
	Streaming lipgloss.Style
}

// DefaultStyles returns the chat styles.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Background(primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),
		Footer: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 2),
		UserLabel: lipgloss.NewStyle().
			Foreground(primary).
			Bold(true).
			MarginTop(1),
		BotLabel: lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			MarginTop(1),
		Official:  lipgloss.NewStyle().Foreground(accent),
		Community: lipgloss.NewStyle().Foreground(warning),
		Status:    lipgloss.NewStyle().Foreground(muted).Italic(true),
		Error:     lipgloss.NewStyle().Foreground(destructive).Bold(true),
		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		Streaming: lipgloss.NewStyle().
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(accent),
	}
}
