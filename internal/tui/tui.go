// Package tui is the terminal respondent preview: it shows the questions a
// respondent would see, lets the user pick answers and re-evaluates
// conditions after every pick.
package tui

import (
	"context"

	"surveyor/internal/editor"

	tea "github.com/charmbracelet/bubbletea"
)

func Run(ctx context.Context, e *editor.Editor) error {
	applyColorProfile()
	m := newModel(e)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
