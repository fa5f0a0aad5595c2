package worker

import (
	"context"
	"sync"
	"time"

	"igmutual/pkg/logger"
)

// Job is a task run on a fixed interval
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs periodic jobs, one goroutine per job. A job never
// overlaps itself.
type Scheduler struct {
	jobs   []Job
	logger logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for jobs. Jobs with a non-positive
// interval are skipped.
func NewScheduler(log logger.Logger, jobs ...Job) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{jobs: jobs, logger: log.WithField("component", "scheduler")}
}

// Start launches every job loop
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
}

// Stop cancels the jobs and waits for running ones to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logger.LogComponentStop(s.logger, "scheduler", "stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.DebugWithFields("Job scheduled", map[string]interface{}{
		"job":      job.Name,
		"interval": job.Interval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	fields := map[string]interface{}{
		"job":      job.Name,
		"duration": time.Since(start),
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).WarnWithFields("Scheduled job failed", fields)
		}
		return
	}
	s.logger.DebugWithFields("Scheduled job finished", fields)
}
