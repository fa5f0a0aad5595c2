package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Options configure Run
type Options struct {
	Interval     time.Duration
	ExitWhenDone bool
	AltScreen    bool
}

// Run shows the watcher until the user quits, ctx ends or, with
// ExitWhenDone, every check is terminal. It returns the final model.
func Run(ctx context.Context, src Source, ids []string, opts Options) (*Model, error) {
	model := NewModel(src, ids, opts.Interval, opts.ExitWhenDone)

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.AltScreen {
		progOpts = append(progOpts, tea.WithAltScreen())
	}

	final, err := tea.NewProgram(model, progOpts...).Run()
	if m, ok := final.(*Model); ok {
		model = m
	}
	return model, err
}
