package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	colorMuted    lipgloss.TerminalColor = ac("240", "243")
	colorAccent   lipgloss.TerminalColor = ac("25", "75")
	colorSelected lipgloss.TerminalColor = ac("#e9e9e9", "#262626")
	colorRequired lipgloss.TerminalColor = ac("160", "203")

	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleQuestion = lipgloss.NewStyle().Bold(true)
	styleRequired = lipgloss.NewStyle().Foreground(colorRequired)
	styleCursor   = lipgloss.NewStyle().Background(colorSelected).Bold(true)
	styleStatus   = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
)

// applyColorProfile honors NO_COLOR and SURVEYOR_TUI_COLOR
// (none|ansi|256|truecolor) before the program starts.
func applyColorProfile() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SURVEYOR_TUI_COLOR"))) {
	case "none":
		lipgloss.SetColorProfile(termenv.Ascii)
	case "ansi":
		lipgloss.SetColorProfile(termenv.ANSI)
	case "256":
		lipgloss.SetColorProfile(termenv.ANSI256)
	case "truecolor":
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}

// markdownStyle picks the glamour palette without querying the terminal,
// which can block on some emulators.
func markdownStyle() string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SURVEYOR_TUI_THEME"))) {
	case "light":
		return "light"
	case "dark":
		return "dark"
	}
	if lipgloss.ColorProfile() == termenv.Ascii {
		return "notty"
	}
	if lipgloss.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
