package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"igmutual/pkg/models"
	"igmutual/pkg/ui"
)

// View renders the watcher
func (m *Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	sections := []string{
		headerStyle.Render(fmt.Sprintf("igmutual watch  %s", dimStyle.Render(ui.FormatDuration(m.now().Sub(m.startTime))))),
		m.renderChecksPanel(m.width - 2),
		lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderQueuePanel((m.width-4)/2),
			"  ",
			m.renderSessionPanel((m.width-4)/2),
		),
		m.renderLogsPanel(m.width - 2),
	}

	if m.err != nil {
		sections = append(sections, lipgloss.NewStyle().Foreground(ui.Red).Render("poll error: "+m.err.Error()))
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("q quit · r refresh · ? help"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderChecksPanel(width int) string {
	title := titleStyle.Render(" CHECKS ")
	var lines []string
	for _, id := range m.ids {
		st, ok := m.checks[id]
		if !ok {
			lines = append(lines, m.spinner.View()+" "+dimStyle.Render(id))
			continue
		}

		icon := m.spinner.View()
		switch st.Status {
		case models.CheckCompleted:
			icon = statusStyle(st.Status).Render("✓")
		case models.CheckFailed:
			icon = statusStyle(st.Status).Render("✗")
		case models.CheckQueued:
			icon = statusStyle(st.Status).Render("…")
		}

		detail := ""
		switch st.Status {
		case models.CheckQueued:
			detail = fmt.Sprintf("#%d, ~%s", st.QueuePosition, ui.FormatDuration(st.EstimatedWait))
		case models.CheckCompleted:
			detail = valueStyle.Render(fmt.Sprintf("%d non-mutual", st.Counts.NonMutual))
		case models.CheckFailed:
			detail = st.ErrorReason
		}

		lines = append(lines,
			fmt.Sprintf("%s %-24s %s %s", icon, "@"+st.Target, statusStyle(st.Status).Render(fmt.Sprintf("%-10s", st.Status)), detail),
			"  "+m.bar.ViewAs(float64(st.ProgressPercent)/100),
		)
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("No checks"))
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func (m *Model) renderQueuePanel(width int) string {
	title := titleStyle.Render(" QUEUE ")
	content := dimStyle.Render("waiting for data")
	if m.stats != nil {
		content = strings.Join([]string{
			fmt.Sprintf("%s %s", labelStyle.Render("Queued:"), valueStyle.Render(fmt.Sprint(m.stats.Queued))),
			fmt.Sprintf("%s %s", labelStyle.Render("Running:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.stats.Processing, m.stats.Ceiling))),
			fmt.Sprintf("%s %s", labelStyle.Render("Avg check:"), valueStyle.Render(ui.FormatDuration(m.stats.AverageDuration))),
		}, "\n")
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *Model) renderSessionPanel(width int) string {
	title := titleStyle.Render(" SESSION ")
	h := m.health
	state := string(h.State)
	if !h.Active {
		state = "NONE"
	}
	color := ui.Green
	switch {
	case h.Halted || h.State == models.SessionInvalid:
		color = ui.Red
	case h.State == models.SessionDegraded || !h.Active:
		color = ui.Yellow
	}
	lines := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("State:"), lipgloss.NewStyle().Foreground(color).Bold(true).Render(state)),
		fmt.Sprintf("%s %s", labelStyle.Render("Failures:"), valueStyle.Render(fmt.Sprint(h.ConsecutiveFailures))),
	}
	if h.Halted {
		lines = append(lines, lipgloss.NewStyle().Foreground(ui.Red).Bold(true).Render("DISPATCH HALTED"))
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" ACTIVITY ")
	start := max(len(m.logs)-8, 0)

	var lines []string
	for _, l := range m.logs[start:] {
		level := lipgloss.NewStyle().Foreground(levelColor(l.Level)).Bold(true).Render(fmt.Sprintf("[%-7s]", l.Level))
		lines = append(lines, fmt.Sprintf("%s %s %s", logTimestampStyle.Render(l.Time.Format("15:04:05")), level, l.Message))
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		content = dimStyle.Render("No activity yet...")
	}
	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *Model) renderHelp() string {
	return panelStyle.Width(m.width - 2).Render(`  q/esc    quit (checks keep running)
  r        poll now
  ctrl+l   clear activity
  ?        toggle this help`)
}
