package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"igmutual/pkg/logger"
)

func TestSchedulerRunsJobs(t *testing.T) {
	var fast, failing, disabled atomic.Int32
	log := logger.NewTestLogger()

	s := NewScheduler(log,
		Job{Name: "fast", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			fast.Add(1)
			return nil
		}},
		Job{Name: "failing", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Job{Name: "disabled", Run: func(ctx context.Context) error {
			disabled.Add(1)
			return nil
		}},
	)
	s.Start(context.Background())

	waitFor(t, time.Second, func() bool { return fast.Load() >= 3 && failing.Load() >= 1 })
	s.Stop()

	after := fast.Load()
	time.Sleep(30 * time.Millisecond)
	if fast.Load() != after {
		t.Error("job ran after Stop")
	}
	if disabled.Load() != 0 {
		t.Error("job without an interval ran")
	}
	if !log.HasMessage("Scheduled job failed") {
		t.Error("expected failed job to be logged")
	}
}
