// Package ui renders command line output.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Logo is printed by interactive commands
const Logo = `
  ┌─────────────────────────────────────────────┐
  │  igmutual  ·  who doesn't follow you back   │
  └─────────────────────────────────────────────┘
`

var (
	Cyan    = lipgloss.Color("#00D7D7")
	Yellow  = lipgloss.Color("#FFD75F")
	Red     = lipgloss.Color("#FF5F5F")
	Green   = lipgloss.Color("#5FD75F")
	Magenta = lipgloss.Color("#D75FD7")
	Dim     = lipgloss.Color("#808080")

	labelStyle     = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	valueStyle     = lipgloss.NewStyle().Foreground(Yellow)
	errorStyle     = lipgloss.NewStyle().Foreground(Red).Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	warningStyle   = lipgloss.NewStyle().Foreground(Yellow)
	highlightStyle = lipgloss.NewStyle().Foreground(Magenta).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(Dim)
)

// Out is where the print helpers write
var Out io.Writer = os.Stdout

var quiet bool

// SetQuietMode suppresses everything except errors
func SetQuietMode(q bool) {
	quiet = q
}

// PrintLogo prints the banner
func PrintLogo() {
	if quiet {
		return
	}
	fmt.Fprint(Out, labelStyle.Render(Logo))
}

// PrintError prints an error message with an optional detail
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintln(Out, errorStyle.Render(withDetail(msg, args)))
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(Out, successStyle.Render(msg))
}

// PrintInfo prints a label and its value
func PrintInfo(label string, value string) {
	if quiet {
		return
	}
	fmt.Fprintf(Out, "%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

// PrintWarning prints a warning with an optional detail
func PrintWarning(msg string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintln(Out, warningStyle.Render(withDetail(msg, args)))
}

// PrintHighlight prints a section heading
func PrintHighlight(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(Out, highlightStyle.Render(msg))
}

// PrintDim prints secondary text
func PrintDim(msg string) {
	if quiet {
		return
	}
	fmt.Fprintln(Out, dimStyle.Render(msg))
}

func withDetail(msg string, args []interface{}) string {
	if len(args) == 0 || args[0] == "" {
		return msg
	}
	return msg + ": " + fmt.Sprintf("%v", args[0])
}
