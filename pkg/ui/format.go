package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"igmutual/pkg/engine"
	"igmutual/pkg/models"
	"igmutual/pkg/queue"
	"igmutual/pkg/session"
)

// StatusColor picks the color of a check status
func StatusColor(status models.CheckStatus) lipgloss.Color {
	switch status {
	case models.CheckCompleted:
		return Green
	case models.CheckFailed:
		return Red
	case models.CheckProcessing:
		return Cyan
	default:
		return Yellow
	}
}

// ProgressBar renders percent (0-100) as a bar of width cells
func ProgressBar(percent, width int) string {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = width
	return bar.ViewAs(float64(min(max(percent, 0), 100)) / 100)
}

// FormatDuration formats a duration as mm:ss or hh:mm:ss
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

type rows struct {
	b strings.Builder
}

func (r *rows) add(label, value string) {
	fmt.Fprintf(&r.b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label+":")), value)
}

func (r *rows) String() string {
	return r.b.String()
}

// RenderStatus renders a check status block
func RenderStatus(st *engine.Status) string {
	var r rows
	r.add("Check", st.CheckID)
	r.add("Target", "@"+st.Target)
	r.add("Status", lipgloss.NewStyle().Foreground(StatusColor(st.Status)).Bold(true).Render(string(st.Status)))
	r.add("Progress", fmt.Sprintf("%s %3d%%", ProgressBar(st.ProgressPercent, 30), st.ProgressPercent))

	switch st.Status {
	case models.CheckQueued:
		r.add("Position", fmt.Sprintf("%d", st.QueuePosition))
		r.add("Estimated wait", FormatDuration(st.EstimatedWait))
	case models.CheckCompleted:
		r.add("Following", fmt.Sprintf("%d", st.Counts.Following))
		r.add("Followers", fmt.Sprintf("%d", st.Counts.Followers))
		r.add("Non-mutual", valueStyle.Render(fmt.Sprintf("%d", st.Counts.NonMutual)))
		if st.CacheUsed {
			r.add("Reused from", st.SourceCheckID)
		}
	case models.CheckFailed:
		r.add("Reason", errorStyle.Render(st.ErrorReason))
		if st.ErrorMessage != "" {
			r.add("Message", st.ErrorMessage)
		}
	}
	if st.StartedAt != nil && st.CompletedAt != nil {
		r.add("Duration", FormatDuration(st.CompletedAt.Sub(*st.StartedAt)))
	}
	return r.String()
}

// RenderHealth renders a session health block. The token is only ever
// shown masked.
func RenderHealth(h session.Health) string {
	var r rows
	state := string(h.State)
	if !h.Active {
		state = "NONE"
	}
	color := Green
	switch {
	case h.Halted || h.State == models.SessionInvalid:
		color = Red
	case h.State == models.SessionDegraded:
		color = Yellow
	}
	r.add("Session", lipgloss.NewStyle().Foreground(color).Bold(true).Render(state))
	r.add("Credentials", yesNo(h.HasCredentials))
	if h.TokenPreview != "" {
		r.add("Token", h.TokenPreview)
	}
	if h.Active {
		r.add("Age", FormatDuration(h.Age))
		r.add("Next refresh", h.NextRefreshAt.Format(time.RFC3339))
	}
	r.add("Failures", fmt.Sprintf("%d", h.ConsecutiveFailures))
	if h.Halted {
		r.add("Dispatch", errorStyle.Render("HALTED, set credentials or refresh manually"))
	}
	if h.LastError != "" {
		r.add("Last error", h.LastError)
	}
	return r.String()
}

// RenderQueue renders queue statistics
func RenderQueue(s *queue.Stats) string {
	var r rows
	r.add("Queued", fmt.Sprintf("%d", s.Queued))
	r.add("Processing", fmt.Sprintf("%d/%d", s.Processing, s.Ceiling))
	r.add("Average check", FormatDuration(s.AverageDuration))
	r.add("Wait for new", FormatDuration(s.EstimatedWait))
	return r.String()
}

// RenderResults renders the non-mutual accounts one per line
func RenderResults(results []models.NonMutualResult) string {
	if len(results) == 0 {
		return dimStyle.Render("Everyone follows back.") + "\n"
	}
	var b strings.Builder
	width := len(fmt.Sprintf("%d", len(results)))
	for _, res := range results {
		fmt.Fprintf(&b, "%*d. %s", width, res.Ordinal, valueStyle.Render("@"+res.Handle))
		if res.DisplayName != "" {
			fmt.Fprintf(&b, " %s", dimStyle.Render(res.DisplayName))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
