package tui

import (
	"github.com/charmbracelet/lipgloss"

	"igmutual/pkg/models"
	"igmutual/pkg/ui"
)

var (
	darkBg2 = lipgloss.Color("#1A1E37")
	dimText = lipgloss.Color("#B0B0B0")

	headerStyle = lipgloss.NewStyle().
			Foreground(ui.Cyan).
			Bold(true).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ui.Magenta).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(ui.Magenta).
			Foreground(darkBg2).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(ui.Cyan).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(ui.Yellow)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimText)

	logTimestampStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 0, 0, 2)
)

func statusStyle(status models.CheckStatus) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ui.StatusColor(status)).Bold(true)
}

func levelColor(level string) lipgloss.Color {
	switch level {
	case "ERROR":
		return ui.Red
	case "WARN":
		return ui.Yellow
	case "SUCCESS":
		return ui.Green
	default:
		return ui.Cyan
	}
}
