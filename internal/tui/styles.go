package tui

import "github.com/charmbracelet/lipgloss"

const (
	boxChecked   = "☑"
	boxUnchecked = "☐"
)

type styles struct {
	title    lipgloss.Style
	muted    lipgloss.Style
	accent   lipgloss.Style
	success  lipgloss.Style
	pending  lipgloss.Style
	err      lipgloss.Style
	selected lipgloss.Style
	done     lipgloss.Style
	help     lipgloss.Style
	panel    lipgloss.Style
	input    lipgloss.Style
}

type palette struct {
	text, muted, accent, success, pending, err, border lipgloss.Color
}

var (
	lightPalette = palette{
		text: "235", muted: "245", accent: "27", success: "28",
		pending: "166", err: "160", border: "250",
	}
	darkPalette = palette{
		text: "252", muted: "242", accent: "75", success: "42",
		pending: "214", err: "203", border: "238",
	}
)

func newStyles(dark bool) styles {
	p := lightPalette
	if dark {
		p = darkPalette
	}
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(p.text),
		muted:    lipgloss.NewStyle().Foreground(p.muted),
		accent:   lipgloss.NewStyle().Foreground(p.accent),
		success:  lipgloss.NewStyle().Foreground(p.success),
		pending:  lipgloss.NewStyle().Foreground(p.pending),
		err:      lipgloss.NewStyle().Foreground(p.err).Bold(true),
		selected: lipgloss.NewStyle().Bold(true).Foreground(p.accent),
		done:     lipgloss.NewStyle().Foreground(p.muted).Strikethrough(true),
		help:     lipgloss.NewStyle().Foreground(p.muted),
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.border).
			Padding(0, 1),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.border).
			Padding(0, 1),
	}
}
