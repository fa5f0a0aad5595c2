package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"igmutual/pkg/cache"
	"igmutual/pkg/checkpoint"
	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/metrics"
	"igmutual/pkg/models"
	"igmutual/pkg/notify"
	"igmutual/pkg/queue"
	"igmutual/pkg/retry"
	"igmutual/pkg/scraper"
)

// Progress marks of each stage
const (
	progressResolve   = 0
	progressResolved  = 5
	progressFollowing = 40
	progressFollowers = 75
	progressDiff      = 80
	progressPersist   = 90
	progressDone      = 100
)

// Settings is the per-check policy of the orchestrator
type Settings struct {
	Timeout          time.Duration
	FreshnessWindow  time.Duration
	RelationPause    time.Duration
	PageSize         int
	MaxRelationCount int
}

// SettingsFromConfig extracts the orchestrator policy from cfg
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Timeout:          cfg.Check.Timeout,
		FreshnessWindow:  cfg.Check.FreshnessWindow,
		RelationPause:    cfg.Scraper.RelationPause,
		PageSize:         cfg.Scraper.PageSize,
		MaxRelationCount: cfg.Scraper.MaxRelationCount,
	}
}

// Callback receives a check outcome after it is persisted
type Callback func(event notify.CompletionEvent)

// Orchestrator runs one claimed check from target resolution to
// persisted result.
type Orchestrator struct {
	repo        Repository
	queue       *queue.Queue
	fetcher     Fetcher
	checkpoints checkpoint.Store
	cache       cache.ResultCache
	notifier    notify.Notifier
	metrics     metrics.Recorder
	logger      logger.Logger
	settings    Settings
	now         func() time.Time

	// startMu orders the QUEUED to PROCESSING transition against cancels
	startMu sync.Mutex

	cbMu        sync.RWMutex
	onCompleted []Callback
	onFailed    []Callback
}

// Process runs the check behind a claimed queue entry. Failures of the
// check itself are recorded on it; the returned error is only for
// outcomes that could not be recorded or an interrupted run.
func (o *Orchestrator) Process(ctx context.Context, checkID string) error {
	check, proceed, err := o.begin(ctx, checkID)
	if err != nil && ctx.Err() == nil {
		return o.abandon(ctx, checkID, err)
	}
	if err != nil || !proceed {
		return err
	}

	log := o.logger.WithFields(map[string]interface{}{
		"check_id": check.ID,
		"target":   check.Target,
	})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.settings.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.settings.Timeout)
	}
	defer cancel()

	err = o.run(runCtx, check, log)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown: the entry stays PROCESSING and resumes from its
		// checkpoints on the next start
		log.Warn("Check interrupted")
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = errs.Wrap(err, errs.ReasonTransientFailure, "check timed out")
	}
	return o.fail(ctx, check, err)
}

// begin moves the check to PROCESSING. proceed is false when the check
// was already settled.
func (o *Orchestrator) begin(ctx context.Context, checkID string) (*models.Check, bool, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	check, err := o.repo.GetCheck(ctx, checkID)
	if err != nil {
		return nil, false, err
	}
	if check == nil {
		_ = o.queue.Mark(ctx, checkID, models.EntryFailed)
		return nil, false, fmt.Errorf("check %s not found", checkID)
	}
	if check.Status.Terminal() {
		return nil, false, o.queue.Mark(ctx, checkID, entryStatusOf(check))
	}
	if check.CancelRequested {
		return nil, false, o.fail(ctx, check, errCancelled())
	}

	now := o.now()
	check.Status = models.CheckProcessing
	if check.StartedAt == nil {
		check.StartedAt = &now
	}
	check.ErrorReason, check.ErrorMessage = "", ""
	if err := o.repo.UpdateCheck(ctx, check); err != nil {
		return nil, false, err
	}
	return check, true, nil
}

// abandon settles a claimed check whose start could not be recorded, so
// its entry does not keep holding a processing slot
func (o *Orchestrator) abandon(ctx context.Context, checkID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	o.startMu.Lock()
	defer o.startMu.Unlock()

	check, err := o.repo.GetCheck(ctx, checkID)
	switch {
	case err != nil:
		// Back in line at its place; the next claim retries it
		if merr := o.queue.Mark(ctx, checkID, models.EntryQueued); merr != nil {
			return errors.Join(cause, merr)
		}
	case check == nil:
		if merr := o.queue.Mark(ctx, checkID, models.EntryFailed); merr != nil {
			return errors.Join(cause, merr)
		}
	case check.Status.Terminal():
		if merr := o.queue.Mark(ctx, checkID, entryStatusOf(check)); merr != nil {
			return errors.Join(cause, merr)
		}
	default:
		reason := error(errs.Wrap(cause, errs.ReasonTransientFailure, "check could not be started"))
		if check.CancelRequested {
			reason = errCancelled()
		}
		if ferr := o.fail(ctx, check, reason); ferr != nil {
			return errors.Join(cause, ferr)
		}
	}
	return cause
}

// expire fails a check whose entry has been PROCESSING for longer than any
// run may take
func (o *Orchestrator) expire(ctx context.Context, checkID string) error {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	check, err := o.repo.GetCheck(ctx, checkID)
	if err != nil {
		return err
	}
	if check == nil {
		return o.queue.Mark(ctx, checkID, models.EntryFailed)
	}
	if check.Status.Terminal() {
		return o.queue.Mark(ctx, checkID, entryStatusOf(check))
	}
	return o.fail(ctx, check, errs.New(errs.ReasonTransientFailure, errs.ErrorTypeUnknown, 0, "check stalled in processing"))
}

// cancelQueued fails a check that has not started. It reports false when
// the check is already running, in which case the run notices the request
// at its next page.
func (o *Orchestrator) cancelQueued(ctx context.Context, checkID string) (bool, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	check, err := o.repo.GetCheck(ctx, checkID)
	if err != nil || check == nil || check.Status != models.CheckQueued {
		return false, err
	}
	return true, o.fail(ctx, check, errCancelled())
}

func (o *Orchestrator) run(ctx context.Context, check *models.Check, log logger.Logger) error {
	o.progress(ctx, check, "resolve", progressResolve, log)

	hit, err := o.completeFromCache(ctx, check, log)
	if err != nil || hit {
		return err
	}

	target, err := o.resolve(ctx, check.Target)
	if err != nil {
		return err
	}
	check.TargetID = target.ID
	check.Counts.Following = target.FollowingCount
	check.Counts.Followers = target.FollowersCount
	if err := o.repo.UpdateCheck(ctx, check); err != nil {
		return err
	}
	o.progress(ctx, check, "resolve", progressResolved, log)

	following, err := o.fetchRelation(ctx, check, target, instagram.RelationFollowing, progressResolved, progressFollowing, log)
	if err != nil {
		return err
	}
	if err := retry.Wait(ctx, o.settings.RelationPause); err != nil {
		return err
	}
	followers, err := o.fetchRelation(ctx, check, target, instagram.RelationFollowers, progressFollowing, progressFollowers, log)
	if err != nil {
		return err
	}

	o.progress(ctx, check, "diff", progressDiff, log)
	nonMutual := Diff(following, followers)

	o.progress(ctx, check, "persist", progressPersist, log)
	check.Counts = models.Counts{
		Following: Unique(following),
		Followers: Unique(followers),
		NonMutual: len(nonMutual),
	}
	return o.complete(ctx, check, nonMutual, "", time.Time{}, log)
}

// completeFromCache finishes the check from a fresh earlier result of the
// same target, first from the result cache and then from the store.
func (o *Orchestrator) completeFromCache(ctx context.Context, check *models.Check, log logger.Logger) (bool, error) {
	if o.settings.FreshnessWindow <= 0 {
		return false, nil
	}
	since := o.now().Add(-o.settings.FreshnessWindow)

	var (
		source   string
		counts   models.Counts
		ids      []models.Identity
		via      string
		resultAt time.Time
	)

	entry, err := o.cache.Get(ctx, check.Platform, check.Target)
	if err != nil {
		log.WithError(err).Warn("Result cache lookup failed")
	}
	if entry != nil && !entry.CompletedAt.Before(since) && entry.SourceCheckID != check.ID {
		source, counts, ids, via, resultAt = entry.SourceCheckID, entry.Counts, entry.NonMutual, "redis", entry.CompletedAt
	} else {
		prev, err := o.repo.FindFreshCompleted(ctx, check.Platform, check.Target, since)
		if err != nil {
			return false, err
		}
		if prev == nil || prev.CompletedAt == nil {
			return false, nil
		}
		rows, err := o.repo.GetResults(ctx, prev.ID)
		if err != nil {
			return false, err
		}
		source, counts, ids, via, resultAt = prev.ID, prev.Counts, identitiesOf(rows), "store", *prev.CompletedAt
	}

	check.CacheUsed = true
	check.SourceCheckID = source
	check.Counts = counts
	check.Counts.NonMutual = len(ids)
	o.metrics.RecordCacheHit(via)
	log.InfoWithFields("Reusing recent result", map[string]interface{}{
		"source_check_id": source,
		"via":             via,
	})
	return true, o.complete(ctx, check, ids, via, resultAt, log)
}

// complete persists the result, archives the queue entry and notifies.
// resultAt is when a reused result was scraped; zero means now.
func (o *Orchestrator) complete(ctx context.Context, check *models.Check, nonMutual []models.Identity, cachedVia string, resultAt time.Time, log logger.Logger) error {
	now := o.now()
	if resultAt.IsZero() {
		resultAt = now
	}
	check.Progress = progressDone
	check.CompletedAt = &now
	if err := o.repo.CompleteCheck(ctx, check, toResults(check.ID, nonMutual)); err != nil {
		return fmt.Errorf("failed to persist result: %w", err)
	}

	// The outcome is stored; what follows must not be cut short
	ctx = context.WithoutCancel(ctx)

	if err := o.queue.Mark(ctx, check.ID, models.EntryDone); err != nil {
		log.WithError(err).Error("Failed to archive queue entry")
	}
	if err := o.checkpoints.Delete(ctx, check.ID); err != nil {
		log.WithError(err).Warn("Failed to clear checkpoints")
	}
	if cachedVia != "redis" {
		err := o.cache.Put(ctx, check.Platform, check.Target, &cache.Entry{
			SourceCheckID: sourceOf(check),
			Counts:        check.Counts,
			NonMutual:     nonMutual,
			CompletedAt:   resultAt,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to cache result")
		}
	}

	o.metrics.RecordCheckFinished(string(models.CheckCompleted), "", check.CacheUsed, elapsed(check, now))
	logger.LogCheckProgress(log, check.ID, "notify", progressDone)
	log.InfoWithFields("Check completed", map[string]interface{}{
		"following":  check.Counts.Following,
		"followers":  check.Counts.Followers,
		"non_mutual": check.Counts.NonMutual,
		"cache_used": check.CacheUsed,
	})
	o.emit(ctx, check)
	return nil
}

// fail records a terminal failure of the check
func (o *Orchestrator) fail(ctx context.Context, check *models.Check, cause error) error {
	ctx = context.WithoutCancel(ctx)
	reason := errs.ReasonOf(cause)
	message := cause.Error()
	var e *errs.Error
	if errors.As(cause, &e) && e.Message != "" {
		message = e.Message
	}

	now := o.now()
	check.Status = models.CheckFailed
	check.ErrorReason = string(reason)
	check.ErrorMessage = message
	check.CompletedAt = &now
	if err := o.repo.UpdateCheck(ctx, check); err != nil {
		// Requeue so the next claim runs the check again
		if merr := o.queue.Mark(ctx, check.ID, models.EntryQueued); merr != nil {
			err = errors.Join(err, merr)
		}
		return fmt.Errorf("failed to record failure of %s: %w", check.ID, err)
	}

	log := o.logger.WithFields(map[string]interface{}{
		"check_id": check.ID,
		"target":   check.Target,
		"reason":   string(reason),
	})
	if err := o.queue.Mark(ctx, check.ID, models.EntryFailed); err != nil {
		log.WithError(err).Error("Failed to archive queue entry")
	}

	o.metrics.RecordCheckFinished(string(models.CheckFailed), string(reason), false, elapsed(check, now))
	log.WithError(cause).Warn("Check failed")
	o.emit(ctx, check)
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, handle string) (*scraper.Target, error) {
	target, err := o.fetcher.ResolveTarget(ctx, handle)
	if !errs.Is(err, errs.ReasonUnauthorized) {
		return target, err
	}
	// The scraper already refreshed the session
	target, err = o.fetcher.ResolveTarget(ctx, handle)
	if errs.Is(err, errs.ReasonUnauthorized) {
		return nil, errs.Wrap(err, errs.ReasonUnauthorized, "session rejected again after refresh")
	}
	return target, err
}

// fetchRelation fetches every page of relation, resuming from and
// advancing its checkpoint
func (o *Orchestrator) fetchRelation(ctx context.Context, check *models.Check, target *scraper.Target, relation instagram.Relation, from, to int, log logger.Logger) ([]models.Identity, error) {
	cp, err := o.checkpoints.Load(ctx, check.ID, string(relation))
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		cp = checkpoint.New(check.ID, string(relation))
	} else {
		log.InfoWithFields("Resuming from checkpoint", map[string]interface{}{
			"relation":   string(relation),
			"pages":      cp.Pages,
			"identities": len(cp.Identities),
			"done":       cp.Done(),
		})
	}

	total := target.FollowingCount
	if relation == instagram.RelationFollowers {
		total = target.FollowersCount
	}
	pageSize := max(o.settings.PageSize, 1)
	expected := max((total+pageSize-1)/pageSize, 1)
	stage := "fetch-" + string(relation)

	for !cp.Done() {
		if err := o.checkCancelled(ctx, check.ID); err != nil {
			return nil, err
		}

		page, err := o.fetchPage(ctx, relation, target, cp.Cursor)
		if err != nil {
			return nil, err
		}

		cp.Advance(page.Identities, page.NextCursor, page.HasNext)
		if o.settings.MaxRelationCount > 0 && len(cp.Identities) > o.settings.MaxRelationCount {
			return nil, errs.New(errs.ReasonRelationCountExceeded, errs.ErrorTypeUnknown, 0,
				fmt.Sprintf("%s exceeds the limit of %d", relation, o.settings.MaxRelationCount))
		}
		if err := o.checkpoints.Save(ctx, cp); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint: %w", err)
		}

		o.progress(ctx, check, stage, from+(to-from)*min(cp.Pages, expected)/expected, log)
	}
	return cp.Identities, nil
}

// fetchPage allows one refreshed retry of a page rejected as unauthorized
func (o *Orchestrator) fetchPage(ctx context.Context, relation instagram.Relation, target *scraper.Target, cursor string) (*scraper.Page, error) {
	page, err := o.fetcher.FetchPage(ctx, relation, target, cursor)
	if !errs.Is(err, errs.ReasonUnauthorized) {
		return page, err
	}
	page, err = o.fetcher.FetchPage(ctx, relation, target, cursor)
	if errs.Is(err, errs.ReasonUnauthorized) {
		return nil, errs.Wrap(err, errs.ReasonUnauthorized, "session rejected again after refresh")
	}
	return page, err
}

func (o *Orchestrator) checkCancelled(ctx context.Context, checkID string) error {
	requested, err := o.repo.CancelRequested(ctx, checkID)
	if err != nil {
		return err
	}
	if requested {
		return errCancelled()
	}
	return nil
}

func (o *Orchestrator) progress(ctx context.Context, check *models.Check, stage string, percent int, log logger.Logger) {
	if percent < check.Progress {
		return
	}
	check.Progress = percent
	if err := o.repo.UpdateProgress(ctx, check.ID, percent); err != nil {
		log.WithError(err).Debug("Failed to record progress")
	}
	logger.LogCheckProgress(log, check.ID, stage, percent)
}

func (o *Orchestrator) emit(ctx context.Context, check *models.Check) {
	event := notify.CompletionEvent{
		CheckID:      check.ID,
		Platform:     check.Platform,
		Target:       check.Target,
		Status:       check.Status,
		Counts:       check.Counts,
		CacheUsed:    check.CacheUsed,
		ErrorReason:  check.ErrorReason,
		ErrorMessage: check.ErrorMessage,
		FinishedAt:   o.now(),
	}
	if check.Status == models.CheckCompleted {
		event.ResultsRef = ResultsPath(check.ID)
	}

	o.cbMu.RLock()
	callbacks := o.onCompleted
	if check.Status == models.CheckFailed {
		callbacks = o.onFailed
	}
	callbacks = append([]Callback(nil), callbacks...)
	o.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, event); err != nil {
			o.logger.WithError(err).WithField("check_id", check.ID).Warn("Failed to deliver completion event")
		}
	}
}

// ResultsPath is the API path of a check's results
func ResultsPath(checkID string) string {
	return "/api/v1/checks/" + checkID + "/results"
}

func errCancelled() error {
	return errs.New(errs.ReasonCancelled, errs.ErrorTypeUnknown, 0, "cancelled by request")
}

func entryStatusOf(c *models.Check) models.EntryStatus {
	if c.Status == models.CheckFailed {
		return models.EntryFailed
	}
	return models.EntryDone
}

func sourceOf(c *models.Check) string {
	if c.SourceCheckID != "" {
		return c.SourceCheckID
	}
	return c.ID
}

func elapsed(c *models.Check, end time.Time) time.Duration {
	if c.StartedAt == nil {
		return 0
	}
	return end.Sub(*c.StartedAt)
}
