// Package queue serializes checks in FIFO order behind a concurrency ceiling.
package queue

import (
	"context"
	"fmt"
	"time"

	"igmutual/pkg/logger"
	"igmutual/pkg/metrics"
	"igmutual/pkg/models"
)

// historySize is how many recent checks feed the wait estimate
const historySize = 20

// Repository is the durable side of the queue. ClaimNext must count
// PROCESSING entries and claim in one transaction.
type Repository interface {
	EnqueueEntry(ctx context.Context, checkID string) (int, error)
	ClaimNext(ctx context.Context, ceiling int) (*models.QueueEntry, error)
	SetEntryStatus(ctx context.Context, checkID string, status models.EntryStatus) error
	GetEntry(ctx context.Context, checkID string) (*models.QueueEntry, error)
	ListEntries(ctx context.Context, status models.EntryStatus) ([]*models.QueueEntry, error)
	CountEntries(ctx context.Context) (queued, processing int, err error)
	AverageDuration(ctx context.Context, n int) (time.Duration, bool, error)
}

// Stats summarises the queue
type Stats struct {
	Queued          int           `json:"queued"`
	Processing      int           `json:"processing"`
	Ceiling         int           `json:"ceiling"`
	AverageDuration time.Duration `json:"average_duration"`
	EstimatedWait   time.Duration `json:"estimated_wait"`
}

// Queue is the check queue
type Queue struct {
	repo            Repository
	ceiling         int
	defaultDuration time.Duration
	logger          logger.Logger
	metrics         metrics.Recorder
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) { q.logger = l.WithField("component", "queue") }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m metrics.Recorder) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithDefaultDuration sets the per-check estimate used without history
func WithDefaultDuration(d time.Duration) Option {
	return func(q *Queue) { q.defaultDuration = d }
}

// New creates a queue allowing at most ceiling PROCESSING entries
func New(repo Repository, ceiling int, opts ...Option) *Queue {
	if ceiling < 1 {
		ceiling = 1
	}
	q := &Queue{
		repo:            repo,
		ceiling:         ceiling,
		defaultDuration: 2 * time.Minute,
		logger:          logger.NewNopLogger(),
		metrics:         metrics.Nop{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ceiling returns the maximum number of concurrently processing checks
func (q *Queue) Ceiling() int {
	return q.ceiling
}

// Enqueue appends the check and returns its 1-based position
func (q *Queue) Enqueue(ctx context.Context, checkID string) (int, error) {
	pos, err := q.repo.EnqueueEntry(ctx, checkID)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s: %w", checkID, err)
	}
	q.logger.InfoWithFields("Check enqueued", map[string]interface{}{
		"check_id": checkID,
		"position": pos,
	})
	q.refreshDepth(ctx)
	return pos, nil
}

// NextReady claims the oldest queued entry, or returns nil when the
// ceiling is reached or nothing is queued.
func (q *Queue) NextReady(ctx context.Context) (*models.QueueEntry, error) {
	entry, err := q.repo.ClaimNext(ctx, q.ceiling)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		q.logger.DebugWithFields("Queue entry claimed", map[string]interface{}{
			"check_id": entry.CheckID,
			"seq":      entry.Seq,
		})
		q.refreshDepth(ctx)
	}
	return entry, nil
}

// Mark moves an entry to status. DONE and FAILED archive it; QUEUED requeues it.
func (q *Queue) Mark(ctx context.Context, checkID string, status models.EntryStatus) error {
	if err := q.repo.SetEntryStatus(ctx, checkID, status); err != nil {
		return fmt.Errorf("failed to mark %s %s: %w", checkID, status, err)
	}
	q.refreshDepth(ctx)
	return nil
}

// Interrupted returns entries left PROCESSING by a previous run
func (q *Queue) Interrupted(ctx context.Context) ([]*models.QueueEntry, error) {
	return q.repo.ListEntries(ctx, models.EntryProcessing)
}

// Stale returns PROCESSING entries claimed before cutoff
func (q *Queue) Stale(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error) {
	entries, err := q.repo.ListEntries(ctx, models.EntryProcessing)
	if err != nil {
		return nil, err
	}
	var stale []*models.QueueEntry
	for _, entry := range entries {
		if entry.StartedAt != nil && entry.StartedAt.Before(cutoff) {
			stale = append(stale, entry)
		}
	}
	return stale, nil
}

// Position returns the 1-based position of a queued check, or 0 when it
// is not waiting.
func (q *Queue) Position(ctx context.Context, checkID string) (int, error) {
	entry, err := q.repo.GetEntry(ctx, checkID)
	if err != nil {
		return 0, err
	}
	if entry == nil || entry.Status != models.EntryQueued {
		return 0, nil
	}
	return entry.Position, nil
}

// EstimatedWait is the expected wait before a check at position starts
func (q *Queue) EstimatedWait(ctx context.Context, position int) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(position) * q.averageDuration(ctx)
}

// Stats returns queue counts and the wait estimate for a new check
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	queued, processing, err := q.repo.CountEntries(ctx)
	if err != nil {
		return nil, err
	}
	avg := q.averageDuration(ctx)
	return &Stats{
		Queued:          queued,
		Processing:      processing,
		Ceiling:         q.ceiling,
		AverageDuration: avg,
		EstimatedWait:   time.Duration(queued+1) * avg,
	}, nil
}

func (q *Queue) averageDuration(ctx context.Context) time.Duration {
	avg, ok, err := q.repo.AverageDuration(ctx, historySize)
	if err != nil || !ok || avg <= 0 {
		return q.defaultDuration
	}
	return avg
}

func (q *Queue) refreshDepth(ctx context.Context) {
	queued, processing, err := q.repo.CountEntries(ctx)
	if err != nil {
		return
	}
	q.metrics.SetQueueDepth(queued, processing)
}
