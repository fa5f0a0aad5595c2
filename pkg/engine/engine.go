// Package engine runs non-mutual checks: it accepts checks into the queue,
// dispatches them one at a time (by default) to the orchestrator, and
// exposes status, results and session administration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"igmutual/internal/worker"
	"igmutual/pkg/cache"
	"igmutual/pkg/checkpoint"
	"igmutual/pkg/config"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/metrics"
	"igmutual/pkg/models"
	"igmutual/pkg/notify"
	"igmutual/pkg/queue"
	"igmutual/pkg/session"
)

var (
	ErrCheckNotFound       = errors.New("check not found")
	ErrNotCompleted        = errors.New("check is not completed")
	ErrAlreadyFinished     = errors.New("check already finished")
	ErrInvalidTarget       = errors.New("invalid target handle")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Status is the externally visible state of a check
type Status struct {
	CheckID         string             `json:"check_id"`
	Platform        string             `json:"platform"`
	Target          string             `json:"target"`
	Status          models.CheckStatus `json:"status"`
	ProgressPercent int                `json:"progress_percent"`
	Counts          models.Counts      `json:"counts"`
	ErrorReason     string             `json:"error_reason,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	CacheUsed       bool               `json:"cache_used"`
	SourceCheckID   string             `json:"source_check_id,omitempty"`
	QueuePosition   int                `json:"queue_position,omitempty"`
	EstimatedWait   time.Duration      `json:"estimated_wait,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

// Deps are the collaborators of an Engine. Cache, Notifier and Metrics
// are optional.
type Deps struct {
	Repo        Repository
	Queue       *queue.Queue
	Fetcher     Fetcher
	Sessions    SessionController
	Credentials CredentialWriter
	Checkpoints checkpoint.Store
	Cache       cache.ResultCache
	Notifier    notify.Notifier
	Metrics     metrics.Recorder
	Logger      logger.Logger
}

// Engine is the check processing engine
type Engine struct {
	cfg         *config.Config
	repo        Repository
	queue       *queue.Queue
	sessions    SessionController
	creds       CredentialWriter
	checkpoints checkpoint.Store
	orch        *Orchestrator
	dispatcher  *worker.Dispatcher
	scheduler   *worker.Scheduler
	logger      logger.Logger
}

// New wires an engine. Call Start to begin processing.
func New(cfg *config.Config, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "engine")
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	e := &Engine{
		cfg:         cfg,
		repo:        deps.Repo,
		queue:       deps.Queue,
		sessions:    deps.Sessions,
		creds:       deps.Credentials,
		checkpoints: deps.Checkpoints,
		logger:      log,
	}
	e.orch = &Orchestrator{
		repo:        deps.Repo,
		queue:       deps.Queue,
		fetcher:     deps.Fetcher,
		checkpoints: deps.Checkpoints,
		cache:       deps.Cache,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      log.WithField("component", "orchestrator"),
		settings:    SettingsFromConfig(cfg),
		now:         time.Now,
	}

	e.dispatcher = worker.NewDispatcher(deps.Queue, e.handle, deps.Queue.Ceiling(), cfg.Queue.PollInterval,
		worker.WithLogger(log),
		worker.WithPauseFunc(deps.Sessions.Halted))

	e.scheduler = worker.NewScheduler(log,
		worker.Job{Name: "session-proactive", Interval: cfg.Session.ProactiveInterval, Run: e.proactiveRefresh},
		worker.Job{Name: "session-health", Interval: cfg.Session.HealthCheckInterval, Run: e.healthCheck},
		worker.Job{Name: "checkpoint-purge", Interval: purgeInterval(cfg.Check.CheckpointRetention), Run: e.purgeCheckpoints},
		worker.Job{Name: "stale-sweep", Interval: staleSweepInterval, Run: e.sweepStale},
	)
	return e
}

// Start requeues checks interrupted by a previous shutdown and starts
// dispatching and the periodic session and cleanup jobs.
func (e *Engine) Start(ctx context.Context) error {
	interrupted, err := e.queue.Interrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to list interrupted checks: %w", err)
	}
	for _, entry := range interrupted {
		if err := e.queue.Mark(ctx, entry.CheckID, models.EntryQueued); err != nil {
			return err
		}
		e.logger.WithField("check_id", entry.CheckID).Info("Requeued interrupted check")
	}

	e.dispatcher.Start(ctx)
	e.scheduler.Start(ctx)
	logger.LogComponentStart(e.logger, "engine", map[string]interface{}{
		"max_concurrent": e.queue.Ceiling(),
		"resumed":        len(interrupted),
	})
	return nil
}

// Stop stops dispatching and waits for running checks to yield. They are
// resumed on the next Start.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.dispatcher.Stop()
	logger.LogComponentStop(e.logger, "engine", "stopped")
}

func (e *Engine) handle(ctx context.Context, entry *models.QueueEntry) {
	if err := e.orch.Process(ctx, entry.CheckID); err != nil && ctx.Err() == nil {
		e.logger.WithError(err).WithField("check_id", entry.CheckID).Error("Check processing failed")
	}
}

// OnCheckCompleted registers fn to run once for every completed check
func (e *Engine) OnCheckCompleted(fn Callback) {
	e.orch.cbMu.Lock()
	defer e.orch.cbMu.Unlock()
	e.orch.onCompleted = append(e.orch.onCompleted, fn)
}

// OnCheckFailed registers fn to run once for every failed check
func (e *Engine) OnCheckFailed(fn Callback) {
	e.orch.cbMu.Lock()
	defer e.orch.cbMu.Unlock()
	e.orch.onFailed = append(e.orch.onFailed, fn)
}

// EnqueueCheck validates the target and queues a new check. It never
// contacts the platform.
func (e *Engine) EnqueueCheck(ctx context.Context, target, platform string) (string, int, error) {
	if platform == "" {
		platform = models.PlatformInstagram
	}
	if platform != models.PlatformInstagram {
		return "", 0, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	handle := instagram.SanitizeUsername(target)
	if !instagram.IsValidUsername(handle) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	check := &models.Check{
		ID:       uuid.NewString(),
		Platform: platform,
		Target:   handle,
		Status:   models.CheckQueued,
	}
	if err := e.repo.CreateCheck(ctx, check); err != nil {
		return "", 0, err
	}
	position, err := e.queue.Enqueue(ctx, check.ID)
	if err != nil {
		return "", 0, err
	}
	e.dispatcher.Wake()

	e.logger.InfoWithFields("Check accepted", map[string]interface{}{
		"check_id": check.ID,
		"target":   handle,
		"position": position,
	})
	return check.ID, position, nil
}

// GetCheckStatus returns the state of a check with its queue position
func (e *Engine) GetCheckStatus(ctx context.Context, checkID string) (*Status, error) {
	check, err := e.getCheck(ctx, checkID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		CheckID:         check.ID,
		Platform:        check.Platform,
		Target:          check.Target,
		Status:          check.Status,
		ProgressPercent: check.Progress,
		Counts:          check.Counts,
		ErrorReason:     check.ErrorReason,
		ErrorMessage:    check.ErrorMessage,
		CacheUsed:       check.CacheUsed,
		SourceCheckID:   check.SourceCheckID,
		CreatedAt:       check.CreatedAt,
		StartedAt:       check.StartedAt,
		CompletedAt:     check.CompletedAt,
	}
	if check.Status == models.CheckQueued {
		pos, err := e.queue.Position(ctx, check.ID)
		if err != nil {
			return nil, err
		}
		st.QueuePosition = pos
		st.EstimatedWait = e.queue.EstimatedWait(ctx, pos)
	}
	return st, nil
}

// GetResults returns the non-mutual accounts of a completed check
func (e *Engine) GetResults(ctx context.Context, checkID string) ([]models.NonMutualResult, error) {
	check, err := e.getCheck(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if check.Status != models.CheckCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, check.Status)
	}
	results, err := e.repo.GetResults(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []models.NonMutualResult{}
	}
	return results, nil
}

// Cancel requests cancellation. A queued check fails at once; a running
// one stops at its next page boundary.
func (e *Engine) Cancel(ctx context.Context, checkID string) error {
	check, err := e.getCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if check.Status.Terminal() {
		return ErrAlreadyFinished
	}

	ok, err := e.repo.RequestCancel(ctx, checkID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyFinished
	}

	cancelled, err := e.orch.cancelQueued(ctx, checkID)
	if err != nil {
		return err
	}
	e.logger.WithFields(map[string]interface{}{
		"check_id":  checkID,
		"immediate": cancelled,
	}).Info("Check cancellation requested")
	return nil
}

// QueueStats returns queue counts and the wait estimate for a new check
func (e *Engine) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return e.queue.Stats(ctx)
}

// SetCredentials stores the platform login and lifts a refresh halt
func (e *Engine) SetCredentials(ctx context.Context, username, password, totpSecret string) error {
	if err := e.creds.Set(username, password, totpSecret); err != nil {
		return err
	}
	e.sessions.Resume()
	e.dispatcher.Wake()
	e.logger.Info("Credentials updated")
	return nil
}

// ForceRefresh logs in now, even while halted
func (e *Engine) ForceRefresh(ctx context.Context) (session.Health, error) {
	if _, err := e.sessions.ForceRefresh(ctx); err != nil {
		return e.sessions.Health(ctx), err
	}
	e.dispatcher.Wake()
	return e.sessions.Health(ctx), nil
}

// GetSessionHealth returns the session snapshot
func (e *Engine) GetSessionHealth(ctx context.Context) session.Health {
	return e.sessions.Health(ctx)
}

// SetSession installs a session token obtained elsewhere
func (e *Engine) SetSession(ctx context.Context, token string) error {
	if err := e.sessions.SetSession(ctx, token); err != nil {
		return err
	}
	e.sessions.Resume()
	e.dispatcher.Wake()
	return nil
}

func (e *Engine) getCheck(ctx context.Context, checkID string) (*models.Check, error) {
	check, err := e.repo.GetCheck(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if check == nil {
		return nil, ErrCheckNotFound
	}
	return check, nil
}

func (e *Engine) proactiveRefresh(ctx context.Context) error {
	refreshed, err := e.sessions.CheckProactive(ctx)
	if refreshed && err == nil {
		e.dispatcher.Wake()
	}
	return err
}

func (e *Engine) healthCheck(ctx context.Context) error {
	err := e.sessions.Validate(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	return err
}

func (e *Engine) purgeCheckpoints(ctx context.Context) error {
	n, err := e.checkpoints.Purge(ctx, time.Now().Add(-e.cfg.Check.CheckpointRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.WithField("purged", n).Info("Purged stale checkpoints")
	}
	return nil
}

// sweepStale fails checks whose entries outlived any possible run, such
// as those left behind by a store error, so they stop holding a slot
func (e *Engine) sweepStale(ctx context.Context) error {
	stale, err := e.queue.Stale(ctx, e.orch.now().Add(-staleAfter(e.cfg.Check.Timeout)))
	if err != nil {
		return err
	}
	for _, entry := range stale {
		log := e.logger.WithField("check_id", entry.CheckID)
		if err := e.orch.expire(ctx, entry.CheckID); err != nil {
			log.WithError(err).Error("Failed to expire stale check")
			continue
		}
		log.Warn("Expired check stuck in processing")
	}
	if len(stale) > 0 {
		e.dispatcher.Wake()
	}
	return nil
}

const (
	staleSweepInterval = 5 * time.Minute
	staleMargin        = 5 * time.Minute
)

// staleAfter is how long an entry may stay PROCESSING. Without a check
// timeout it falls back to half an hour.
func staleAfter(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 30 * time.Minute
	}
	return timeout + staleMargin
}

// purgeInterval runs the purge a few times per retention window
func purgeInterval(retention time.Duration) time.Duration {
	if retention <= 0 {
		return 0
	}
	return min(retention/4, 6*time.Hour)
}
