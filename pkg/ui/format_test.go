package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"igmutual/pkg/engine"
	"igmutual/pkg/models"
	"igmutual/pkg/session"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{90 * time.Second, "01:30"},
		{2*time.Hour + 5*time.Minute + 7*time.Second, "02:05:07"},
	}

	for _, test := range tests {
		if got := FormatDuration(test.d); got != test.expected {
			t.Errorf("FormatDuration(%v) = %s, expected %s", test.d, got, test.expected)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	queued := RenderStatus(&engine.Status{
		CheckID:       "c1",
		Target:        "someone",
		Status:        models.CheckQueued,
		QueuePosition: 3,
		EstimatedWait: 6 * time.Minute,
	})
	for _, want := range []string{"c1", "@someone", "QUEUED", "Position", "06:00"} {
		if !strings.Contains(queued, want) {
			t.Errorf("queued status missing %q:\n%s", want, queued)
		}
	}

	failed := RenderStatus(&engine.Status{
		CheckID:      "c2",
		Status:       models.CheckFailed,
		ErrorReason:  "private_target",
		ErrorMessage: "account is private",
	})
	if !strings.Contains(failed, "private_target") || !strings.Contains(failed, "account is private") {
		t.Errorf("failed status missing reason:\n%s", failed)
	}
	if strings.Contains(failed, "Position") {
		t.Errorf("failed status shows a queue position:\n%s", failed)
	}

	done := RenderStatus(&engine.Status{
		Status:        models.CheckCompleted,
		Counts:        models.Counts{Following: 500, Followers: 450, NonMutual: 100},
		CacheUsed:     true,
		SourceCheckID: "c0",
	})
	for _, want := range []string{"500", "450", "100", "c0"} {
		if !strings.Contains(done, want) {
			t.Errorf("completed status missing %q:\n%s", want, done)
		}
	}
}

func TestRenderHealth(t *testing.T) {
	out := RenderHealth(session.Health{
		HasCredentials: true,
		Active:         true,
		State:          models.SessionDegraded,
		TokenPreview:   "abcdefgh...wxyz",
		Halted:         true,
	})
	for _, want := range []string{"DEGRADED", "abcdefgh...wxyz", "HALTED"} {
		if !strings.Contains(out, want) {
			t.Errorf("health missing %q:\n%s", want, out)
		}
	}

	none := RenderHealth(session.Health{})
	if !strings.Contains(none, "NONE") {
		t.Errorf("empty health should show NONE:\n%s", none)
	}
}

func TestRenderResults(t *testing.T) {
	out := RenderResults([]models.NonMutualResult{
		{Ordinal: 1, Identity: models.Identity{Handle: "alice", DisplayName: "Alice"}},
		{Ordinal: 2, Identity: models.Identity{Handle: "bob"}},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "@alice") || !strings.Contains(lines[0], "Alice") {
		t.Errorf("unexpected first line %q", lines[0])
	}

	if !strings.Contains(RenderResults(nil), "Everyone follows back") {
		t.Error("empty results should say so")
	}
}

func TestQuietMode(t *testing.T) {
	var buf bytes.Buffer
	Out = &buf
	defer func() {
		Out = os.Stdout
		SetQuietMode(false)
	}()

	SetQuietMode(true)
	PrintSuccess("done")
	PrintInfo("Target", "someone")
	PrintError("failed", "boom")

	out := buf.String()
	if strings.Contains(out, "done") || strings.Contains(out, "someone") {
		t.Errorf("quiet mode printed non-error output: %q", out)
	}
	if !strings.Contains(out, "failed: boom") {
		t.Errorf("errors must print in quiet mode: %q", out)
	}
}
