package scraper

import (
	"context"
	"fmt"
	"time"

	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/metrics"
	"igmutual/pkg/models"
	"igmutual/pkg/ratelimit"
	"igmutual/pkg/retry"
)

// Target is a resolved account whose relations can be fetched
type Target struct {
	ID             string
	Handle         string
	DisplayName    string
	IsPrivate      bool
	FollowingCount int
	FollowersCount int
}

// Page is one page of a relation list
type Page struct {
	Identities []models.Identity
	NextCursor string
	HasNext    bool
	// Count is the total size of the relation as reported by the platform
	Count int
}

// Scraper fetches profiles and relation pages with pacing and retries
type Scraper struct {
	client   Client
	sessions SessionProvider
	cfg      config.ScraperConfig
	budget   ratelimit.Limiter
	pacer    *ratelimit.Pacer
	backoff  retry.BackoffStrategy
	logger   logger.Logger
	metrics  metrics.Recorder
}

// Option configures a Scraper
type Option func(*Scraper)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Scraper) { s.metrics = r }
}

// WithBudget replaces the global request budget, e.g. to share one limiter
// between several scrapers
func WithBudget(l ratelimit.Limiter) Option {
	return func(s *Scraper) { s.budget = l }
}

// WithBackoff replaces the retry backoff strategy
func WithBackoff(b retry.BackoffStrategy) Option {
	return func(s *Scraper) { s.backoff = b }
}

// New creates a new Scraper
func New(client Client, sessions SessionProvider, cfg config.ScraperConfig, rl config.RateLimitConfig, opts ...Option) *Scraper {
	s := &Scraper{
		client:   client,
		sessions: sessions,
		cfg:      cfg,
		budget:   ratelimit.NewRequestBudget(rl.RequestsPerMinute, rl.BurstSize),
		pacer:    ratelimit.NewPacer(cfg.PageDelayMin, cfg.PageDelayMax),
		backoff: &retry.ExponentialBackoff{
			BaseDelay:  cfg.BackoffBase,
			MaxDelay:   cfg.BackoffMax,
			Multiplier: 2,
		},
		logger:  logger.GetLogger(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "scraper")
	return s
}

// ResolveTarget looks up handle and checks that its relations can be fetched
func (s *Scraper) ResolveTarget(ctx context.Context, handle string) (*Target, error) {
	log := s.logger.WithField("target", handle)
	log.Debug("Resolving target")

	profile, err := retry.DoWithResult(ctx, func(ctx context.Context) (*instagram.Profile, error) {
		return call(ctx, s, s.budget, func(ctx context.Context, token string) (*instagram.Profile, error) {
			return s.client.FetchProfile(ctx, token, handle)
		})
	}, s.retryConfig("profile"))
	if err != nil {
		return nil, err
	}

	target := &Target{
		ID:             profile.ID,
		Handle:         profile.Username,
		DisplayName:    profile.FullName,
		IsPrivate:      profile.IsPrivate,
		FollowingCount: profile.FollowingCount,
		FollowersCount: profile.FollowersCount,
	}

	// A private account is readable only when the session follows it
	if profile.IsPrivate && !profile.FollowedByViewer {
		return nil, errs.New(errs.ReasonPrivateTarget, errs.ErrorTypeForbidden, 0,
			fmt.Sprintf("@%s is private", target.Handle))
	}
	if err := s.checkCount(target.FollowingCount, instagram.RelationFollowing); err != nil {
		return nil, err
	}
	if err := s.checkCount(target.FollowersCount, instagram.RelationFollowers); err != nil {
		return nil, err
	}

	log.InfoWithFields("Target resolved", map[string]interface{}{
		"target_id": target.ID,
		"following": target.FollowingCount,
		"followers": target.FollowersCount,
	})
	return target, nil
}

// FetchPage fetches the page of relation that starts at cursor.
// An empty cursor fetches the first page.
func (s *Scraper) FetchPage(ctx context.Context, relation instagram.Relation, target *Target, cursor string) (*Page, error) {
	if !relation.Valid() {
		return nil, fmt.Errorf("unknown relation %q", relation)
	}

	limiter := ratelimit.Chain{s.budget, s.pacer}
	raw, err := retry.DoWithResult(ctx, func(ctx context.Context) (*instagram.RelationPage, error) {
		return call(ctx, s, limiter, func(ctx context.Context, token string) (*instagram.RelationPage, error) {
			return s.client.FetchRelationPage(ctx, token, relation, target.ID, s.cfg.PageSize, cursor)
		})
	}, s.retryConfig(string(relation)))
	if err != nil {
		return nil, err
	}

	if err := s.checkCount(raw.Count, relation); err != nil {
		return nil, err
	}

	page := &Page{
		Identities: make([]models.Identity, 0, len(raw.Users)),
		NextCursor: raw.NextCursor,
		HasNext:    raw.HasNext && raw.NextCursor != "",
		Count:      raw.Count,
	}
	skipped := 0
	for _, u := range raw.Users {
		// Identities are keyed by id; a node without one cannot be compared
		if u.ID == "" {
			skipped++
			continue
		}
		page.Identities = append(page.Identities, toIdentity(u))
	}
	if skipped > 0 {
		s.logger.WarnWithFields("Skipped relation nodes without an id", map[string]interface{}{
			"target":   target.Handle,
			"relation": string(relation),
			"skipped":  skipped,
		})
	}
	s.metrics.RecordPageFetched(string(relation))

	s.logger.DebugWithFields("Page fetched", map[string]interface{}{
		"target":   target.Handle,
		"relation": string(relation),
		"users":    len(page.Identities),
		"has_next": page.HasNext,
	})
	return page, nil
}

// MaxRelationCount returns the largest relation the scraper accepts
func (s *Scraper) MaxRelationCount() int {
	return s.cfg.MaxRelationCount
}

func (s *Scraper) checkCount(count int, relation instagram.Relation) error {
	if s.cfg.MaxRelationCount > 0 && count > s.cfg.MaxRelationCount {
		return errs.New(errs.ReasonRelationCountExceeded, errs.ErrorTypeUnknown, 0,
			fmt.Sprintf("%s count %d exceeds the limit of %d", relation, count, s.cfg.MaxRelationCount))
	}
	return nil
}

func (s *Scraper) retryConfig(endpoint string) *retry.Config {
	return &retry.Config{
		MaxAttempts: s.cfg.MaxAttempts + 1,
		Backoff:     s.backoff,
		RetryIf:     retry.DefaultRetryIf,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			if errs.Is(err, errs.ReasonRateLimited) {
				logger.LogRateLimit(s.logger, endpoint, attempt, delay)
			}
		},
		Logger: s.logger.WithField("endpoint", endpoint),
	}
}

// call performs one paced request with the current session and reports
// its outcome to the session provider
func call[T any](ctx context.Context, s *Scraper, limiter ratelimit.Limiter, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	if err := limiter.Wait(ctx); err != nil {
		return zero, err
	}

	sess, err := s.sessions.Acquire(ctx)
	if err != nil {
		return zero, err
	}

	result, err := fn(ctx, sess.Token)
	if err == nil {
		s.sessions.ReportSuccess(ctx)
		s.metrics.RecordRequest("ok")
		return result, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}

	reason := errs.ReasonOf(err)
	s.metrics.RecordRequest(string(reason))

	switch reason {
	case errs.ReasonUnauthorized:
		s.logger.WarnWithFields("Session rejected, requesting refresh", map[string]interface{}{
			"token": instagram.MaskToken(sess.Token),
		})
		if _, rerr := s.sessions.ReportUnauthorized(ctx, sess.Token); rerr != nil {
			return zero, rerr
		}
	case errs.ReasonRateLimited, errs.ReasonTransientFailure:
		s.sessions.ReportFailure(ctx, err)
	}
	return zero, err
}

func toIdentity(u instagram.UserNode) models.Identity {
	return models.Identity{
		ExternalID:  u.ID,
		Handle:      u.Username,
		DisplayName: u.FullName,
		AvatarURL:   u.ProfilePicURL,
		IsPrivate:   u.IsPrivate,
		IsVerified:  u.IsVerified,
	}
}
