// Package ui provides terminal styling helpers shared by the CLI commands.
//
// Styles degrade gracefully: when stdout is not a terminal (piped output,
// CI) the render helpers return plain text so dumps stay machine-readable.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Interactive reports whether stdout is attached to a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Colorized reports whether styling should be applied at all.
func Colorized() bool {
	if !Interactive() {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if !Colorized() {
		return s
	}
	return style.Render(s)
}

// RenderAccent highlights a heading or progress marker.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass marks a successful step.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn marks a recoverable problem.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr marks a failure.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderDim de-emphasizes secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }
