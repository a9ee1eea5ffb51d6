package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#808080")
	colorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	dimStyle   = lipgloss.NewStyle().Foreground(colorGray)

	recordingDotStyle = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	idleDotStyle      = lipgloss.NewStyle().Foreground(colorGray)

	// captionStyle mirrors the on-page widget: bold white on dark.
	captionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(lipgloss.Color("#1C1C1C")).
			Padding(0, 2)

	errorStyle = lipgloss.NewStyle().Foreground(colorRed).Bold(true)

	footerKeyStyle  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	footerDescStyle = lipgloss.NewStyle().Foreground(colorGray)

	levelLowStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	levelMidStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	levelHighStyle = lipgloss.NewStyle().Foreground(colorRed)
)
