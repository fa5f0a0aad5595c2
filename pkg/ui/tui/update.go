package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"igmutual/pkg/engine"
	"igmutual/pkg/queue"
	"igmutual/pkg/session"
)

// SnapshotMsg carries one poll of the watched checks
type SnapshotMsg struct {
	Checks []*engine.Status
	Stats  *queue.Stats
	Health *session.Health
	Err    error
}

// pollMsg asks for the next snapshot
type pollMsg struct{}

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(min(msg.Width/3, 40), 10)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case SnapshotMsg:
		m.Apply(msg)
		if m.exitWhenDone && m.Done() {
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.poll()
	}

	return m, nil
}

func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c", "esc":
		return m, tea.Quit

	case "r":
		return m, m.poll()

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logs = nil
		return m, nil
	}
	return m, nil
}

// poll fetches every watched check, the queue and the session
func (m *Model) poll() tea.Cmd {
	src, ids, timeout := m.src, append([]string(nil), m.ids...), m.interval*5
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var snap SnapshotMsg
		var errs []error
		for _, id := range ids {
			st, err := src.GetCheckStatus(ctx, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			snap.Checks = append(snap.Checks, st)
		}
		stats, err := src.QueueStats(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			snap.Stats = stats
		}
		health := src.GetSessionHealth(ctx)
		snap.Health = &health
		snap.Err = errors.Join(errs...)
		return snap
	}
}
