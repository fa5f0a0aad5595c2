// Package tui is the interactive check watcher.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"igmutual/pkg/engine"
	"igmutual/pkg/models"
	"igmutual/pkg/queue"
	"igmutual/pkg/session"
	"igmutual/pkg/ui"
)

// Source is what the watcher polls
type Source interface {
	GetCheckStatus(ctx context.Context, checkID string) (*engine.Status, error)
	QueueStats(ctx context.Context) (*queue.Stats, error)
	GetSessionHealth(ctx context.Context) session.Health
}

// LogMessage is one line of the activity panel
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
}

// Model is the watcher state
type Model struct {
	src      Source
	ids      []string
	interval time.Duration
	// exitWhenDone quits once every watched check is terminal
	exitWhenDone bool

	spinner spinner.Model
	bar     progress.Model

	checks map[string]*engine.Status
	stats  *queue.Stats
	health session.Health
	err    error

	logs    []LogMessage
	maxLogs int

	width     int
	height    int
	showHelp  bool
	startTime time.Time
	now       func() time.Time
}

// NewModel watches the checks ids, polling src every interval
func NewModel(src Source, ids []string, interval time.Duration, exitWhenDone bool) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ui.Cyan)

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 30

	if interval <= 0 {
		interval = time.Second
	}
	return &Model{
		src:          src,
		ids:          ids,
		interval:     interval,
		exitWhenDone: exitWhenDone,
		spinner:      s,
		bar:          bar,
		checks:       make(map[string]*engine.Status),
		maxLogs:      50,
		startTime:    time.Now(),
		now:          time.Now,
	}
}

// Init starts the spinner and the first poll
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

// Apply merges a snapshot and logs status transitions
func (m *Model) Apply(msg SnapshotMsg) {
	m.err = msg.Err
	if msg.Stats != nil {
		m.stats = msg.Stats
	}
	if msg.Health != nil {
		if msg.Health.Halted && !m.health.Halted {
			m.AddLogMessage("ERROR", "Session refresh failed, dispatch is halted")
		}
		m.health = *msg.Health
	}

	for _, st := range msg.Checks {
		prev, seen := m.checks[st.CheckID]
		m.checks[st.CheckID] = st
		if seen && prev.Status == st.Status {
			continue
		}
		switch st.Status {
		case models.CheckCompleted:
			note := ""
			if st.CacheUsed {
				note = " (recent result reused)"
			}
			m.AddLogMessage("SUCCESS", fmt.Sprintf("@%s completed: %d non-mutual%s", st.Target, st.Counts.NonMutual, note))
		case models.CheckFailed:
			m.AddLogMessage("ERROR", fmt.Sprintf("@%s failed: %s", st.Target, st.ErrorReason))
		case models.CheckProcessing:
			m.AddLogMessage("INFO", fmt.Sprintf("@%s started", st.Target))
		case models.CheckQueued:
			m.AddLogMessage("INFO", fmt.Sprintf("@%s queued at position %d", st.Target, st.QueuePosition))
		}
	}
}

// Done reports whether every watched check is terminal
func (m *Model) Done() bool {
	if len(m.ids) == 0 {
		return false
	}
	for _, id := range m.ids {
		st, ok := m.checks[id]
		if !ok || !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// AddLogMessage appends to the activity panel
func (m *Model) AddLogMessage(level, message string) {
	m.logs = append(m.logs, LogMessage{Time: m.now(), Level: level, Message: message})
	if len(m.logs) > m.maxLogs {
		m.logs = m.logs[len(m.logs)-m.maxLogs:]
	}
}

// Check returns the last seen status of a watched check
func (m *Model) Check(id string) (*engine.Status, bool) {
	st, ok := m.checks[id]
	return st, ok
}

// Logs returns the activity lines
func (m *Model) Logs() []LogMessage {
	return m.logs
}
