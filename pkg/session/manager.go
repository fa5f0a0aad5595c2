package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"igmutual/pkg/auth"
	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/metrics"
	"igmutual/pkg/models"
)

const (
	refreshKey     = "refresh"
	refreshTimeout = 2 * time.Minute
)

var (
	// ErrNoCredentials is returned when a refresh is needed but no login is stored
	ErrNoCredentials = errs.New(errs.ReasonSessionRefreshFailed, errs.ErrorTypeAuth, 0, "no credentials configured")

	// ErrHalted is returned while a failed refresh awaits operator action
	ErrHalted = errs.New(errs.ReasonSessionRefreshFailed, errs.ErrorTypeAuth, 0, "session refresh failed; waiting for new credentials or a manual refresh")

	// ErrNoSession is returned by Validate when no session exists
	ErrNoSession = errors.New("no session")
)

// Repository persists the single session row
type Repository interface {
	LoadSession(ctx context.Context) (*models.Session, error)
	SaveSession(ctx context.Context, sess *models.Session) error
}

// Authenticator performs the platform login and session validation
type Authenticator interface {
	Login(ctx context.Context, username, password, totpSecret string) (*instagram.LoginResult, error)
	ValidateSession(ctx context.Context, token string) error
}

// CredentialSource provides the stored login and records login outcomes
type CredentialSource interface {
	Get() (*auth.Credentials, error)
	RecordLogin(loginErr error) error
}

// Alerter raises operator alerts
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// Health is a snapshot of the session for operators
type Health struct {
	HasCredentials      bool                `json:"has_credentials"`
	Active              bool                `json:"active"`
	Valid               bool                `json:"valid"`
	State               models.SessionState `json:"state"`
	Age                 time.Duration       `json:"age"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	RefreshAttempts     int                 `json:"refresh_attempts"`
	LastUsedAt          time.Time           `json:"last_used_at"`
	NextRefreshAt       time.Time           `json:"next_refresh_at"`
	LastError           string              `json:"last_error,omitempty"`
	Halted              bool                `json:"halted"`
	TokenPreview        string              `json:"token_preview,omitempty"`
}

// Manager owns the platform session. Only the manager mutates it; logins
// are collapsed through a singleflight group.
type Manager struct {
	cfg     config.SessionConfig
	repo    Repository
	authn   Authenticator
	creds   CredentialSource
	alerter Alerter
	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	current    *models.Session
	halted     bool
	refreshing bool
}

// Option configures a Manager
type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l.WithField("component", "session") }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

func WithAlerter(a Alerter) Option {
	return func(m *Manager) { m.alerter = a }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. Call Load before use.
func NewManager(cfg config.SessionConfig, repo Repository, authn Authenticator, creds CredentialSource, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		repo:    repo,
		authn:   authn,
		creds:   creds,
		logger:  logger.NewNopLogger(),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load restores the persisted session. A configured seed token is used
// when nothing is stored.
func (m *Manager) Load(ctx context.Context) error {
	sess, err := m.repo.LoadSession(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess == nil && m.cfg.Token != "" {
		now := m.now()
		sess = &models.Session{
			Token:         m.cfg.Token,
			Valid:         true,
			State:         models.SessionActive,
			CreatedAt:     now,
			LastUsedAt:    now,
			NextRefreshAt: now.Add(m.cfg.RefreshInterval),
		}
		if err := m.repo.SaveSession(ctx, sess); err != nil {
			return err
		}
		m.logger.Info("Seeded session from configuration")
	}
	m.current = sess

	state := "none"
	if sess != nil {
		state = string(sess.State)
	}
	logger.LogSessionEvent(m.logger, "loaded", state, nil)
	return nil
}

// Acquire returns a usable session, refreshing an invalid one when
// credentials exist. It waits for an in-flight refresh.
func (m *Manager) Acquire(ctx context.Context) (models.Session, error) {
	m.mu.Lock()
	if !m.refreshing && m.current != nil && m.current.State != models.SessionInvalid {
		m.current.LastUsedAt = m.now()
		sess := *m.current
		m.mu.Unlock()
		m.persist(ctx, &sess)
		return sess, nil
	}
	halted := m.halted
	refreshing := m.refreshing
	m.mu.Unlock()

	if halted && !refreshing {
		return models.Session{}, ErrHalted
	}
	return m.refresh(ctx)
}

// Refresh performs a login, collapsing concurrent callers into one
func (m *Manager) Refresh(ctx context.Context) (models.Session, error) {
	return m.refresh(ctx)
}

// ForceRefresh is the operator refresh. It runs even while halted.
func (m *Manager) ForceRefresh(ctx context.Context) (models.Session, error) {
	m.logger.Info("Manual session refresh requested")
	return m.refresh(ctx)
}

// Resume clears the halt, typically after credentials were updated
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		m.halted = false
		m.logger.Info("Session halt cleared")
	}
}

// Halted reports whether dispatch must wait for operator action
func (m *Manager) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// ReportUnauthorized invalidates failedToken and refreshes once. Reports
// of a token that has already been replaced return the current session.
func (m *Manager) ReportUnauthorized(ctx context.Context, failedToken string) (models.Session, error) {
	m.mu.Lock()
	cur := m.current
	if cur != nil && failedToken != "" && cur.Token != failedToken && cur.State != models.SessionInvalid {
		sess := *cur
		m.mu.Unlock()
		return sess, nil
	}
	if m.halted && !m.refreshing {
		m.mu.Unlock()
		return models.Session{}, ErrHalted
	}
	var snapshot *models.Session
	if cur != nil && cur.State != models.SessionInvalid {
		cur.State = models.SessionInvalid
		cur.Valid = false
		cur.LastError = "unauthorized"
		s := *cur
		snapshot = &s
	}
	m.mu.Unlock()

	if snapshot != nil {
		logger.LogSessionEvent(m.logger, "unauthorized", string(models.SessionInvalid), nil)
		m.persist(ctx, snapshot)
	}
	return m.refresh(ctx)
}

// ReportSuccess returns a degraded session to ACTIVE
func (m *Manager) ReportSuccess(ctx context.Context) {
	m.mu.Lock()
	cur := m.current
	if cur == nil || (cur.State != models.SessionDegraded && cur.ConsecutiveFailures == 0) {
		m.mu.Unlock()
		return
	}
	if cur.State == models.SessionDegraded {
		cur.State = models.SessionActive
	}
	cur.ConsecutiveFailures = 0
	sess := *cur
	m.mu.Unlock()

	logger.LogSessionEvent(m.logger, "recovered", string(sess.State), nil)
	m.persist(ctx, &sess)
}

// ReportFailure marks an active session DEGRADED after a possibly
// session-related failure
func (m *Manager) ReportFailure(ctx context.Context, err error) {
	m.mu.Lock()
	cur := m.current
	if cur == nil || cur.State == models.SessionInvalid {
		m.mu.Unlock()
		return
	}
	cur.State = models.SessionDegraded
	cur.ConsecutiveFailures++
	if err != nil {
		cur.LastError = err.Error()
	}
	sess := *cur
	m.mu.Unlock()

	logger.LogSessionEvent(m.logger, "degraded", string(sess.State), err)
	m.persist(ctx, &sess)
}

// CheckProactive refreshes a session that is too old or past its refresh
// deadline, or logs in when there is no session and credentials exist.
func (m *Manager) CheckProactive(ctx context.Context) (bool, error) {
	m.mu.Lock()
	cur := m.current
	halted := m.halted
	var reason string
	now := m.now()
	switch {
	case halted:
	case cur == nil:
		reason = "no session"
	case cur.State == models.SessionInvalid:
		reason = "session invalid"
	case m.cfg.MaxAge > 0 && now.Sub(cur.CreatedAt) >= m.cfg.MaxAge:
		reason = "session too old"
	case !cur.NextRefreshAt.IsZero() && !now.Before(cur.NextRefreshAt):
		reason = "refresh due"
	}
	m.mu.Unlock()

	if halted {
		m.logger.Warn("Skipping proactive refresh while halted")
		return false, nil
	}
	if reason == "" {
		return false, nil
	}
	if cur == nil {
		if _, err := m.creds.Get(); err != nil {
			return false, nil
		}
	}

	m.logger.WithField("reason", reason).Info("Proactive session refresh")
	if _, err := m.refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Validate checks the current token against the platform. An unauthorized
// answer triggers the reactive refresh.
func (m *Manager) Validate(ctx context.Context) error {
	m.mu.Lock()
	cur := m.current
	var token string
	if cur != nil && cur.State != models.SessionInvalid {
		token = cur.Token
	}
	m.mu.Unlock()

	if token == "" {
		return ErrNoSession
	}

	err := m.authn.ValidateSession(ctx, token)
	switch {
	case err == nil:
		m.ReportSuccess(ctx)
		return nil
	case errs.Is(err, errs.ReasonUnauthorized):
		m.logger.Warn("Session failed health check")
		if _, rerr := m.ReportUnauthorized(ctx, token); rerr != nil {
			return rerr
		}
		return err
	default:
		m.ReportFailure(ctx, err)
		return err
	}
}

// SetSession installs a token supplied by an operator after validating it
func (m *Manager) SetSession(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("session token is required")
	}
	if err := m.authn.ValidateSession(ctx, token); err != nil {
		return fmt.Errorf("session token rejected: %w", err)
	}

	now := m.now()
	sess := &models.Session{
		Token:         token,
		Valid:         true,
		State:         models.SessionActive,
		CreatedAt:     now,
		LastUsedAt:    now,
		NextRefreshAt: now.Add(m.cfg.RefreshInterval),
	}
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = sess
	m.halted = false
	m.mu.Unlock()

	m.logger.WithField("token", instagram.MaskToken(token)).Info("Session set manually")
	return nil
}

// Health returns a snapshot of the session
func (m *Manager) Health(ctx context.Context) Health {
	_, credErr := m.creds.Get()

	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{
		HasCredentials: credErr == nil,
		Halted:         m.halted,
		State:          models.SessionInvalid,
	}
	if cur := m.current; cur != nil {
		h.Active = cur.State != models.SessionInvalid
		h.Valid = cur.Valid
		h.State = cur.State
		h.Age = m.now().Sub(cur.CreatedAt)
		h.ConsecutiveFailures = cur.ConsecutiveFailures
		h.RefreshAttempts = cur.RefreshAttempts
		h.LastUsedAt = cur.LastUsedAt
		h.NextRefreshAt = cur.NextRefreshAt
		h.LastError = cur.LastError
		h.TokenPreview = instagram.MaskToken(cur.Token)
	}
	return h
}

func (m *Manager) refresh(ctx context.Context) (models.Session, error) {
	// The login outlives any single caller's cancellation
	ch := m.group.DoChan(refreshKey, func() (interface{}, error) {
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.login(loginCtx)
	})

	select {
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Session{}, res.Err
		}
		return res.Val.(models.Session), nil
	}
}

func (m *Manager) login(ctx context.Context) (models.Session, error) {
	m.mu.Lock()
	m.refreshing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	creds, err := m.creds.Get()
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			return models.Session{}, m.fail(ctx, ErrNoCredentials)
		}
		return models.Session{}, m.fail(ctx, errs.Wrap(err, errs.ReasonSessionRefreshFailed, "failed to load credentials"))
	}

	logger.LogSessionEvent(m.logger, "refresh_started", "", nil)
	result, loginErr := m.authn.Login(ctx, creds.Username, creds.Password, creds.TOTPSecret)
	if rerr := m.creds.RecordLogin(loginErr); rerr != nil {
		m.logger.WithError(rerr).Warn("Failed to record login outcome")
	}
	if loginErr != nil {
		return models.Session{}, m.fail(ctx, errs.Wrap(loginErr, errs.ReasonSessionRefreshFailed, "session refresh failed: "+loginErr.Error()))
	}

	now := m.now()
	m.mu.Lock()
	attempts := 1
	if m.current != nil {
		attempts = m.current.RefreshAttempts + 1
	}
	sess := &models.Session{
		Token:           result.SessionID,
		CSRFToken:       result.CSRFToken,
		UserID:          result.UserID,
		Valid:           true,
		State:           models.SessionActive,
		CreatedAt:       now,
		LastUsedAt:      now,
		NextRefreshAt:   now.Add(m.cfg.RefreshInterval),
		RefreshAttempts: attempts,
	}
	m.current = sess
	m.halted = false
	snapshot := *sess
	m.mu.Unlock()

	if err := m.repo.SaveSession(ctx, &snapshot); err != nil {
		m.logger.WithError(err).Error("Failed to persist refreshed session")
	}
	m.metrics.RecordSessionRefresh(true)
	m.logger.WithFields(map[string]interface{}{
		"token":           instagram.MaskToken(snapshot.Token),
		"next_refresh_at": snapshot.NextRefreshAt,
	}).Info("Session refreshed")
	return snapshot, nil
}

// fail records a failed refresh, halts dispatch and alerts
func (m *Manager) fail(ctx context.Context, cause *errs.Error) error {
	m.mu.Lock()
	sess := m.current
	if sess == nil {
		sess = &models.Session{CreatedAt: m.now()}
		m.current = sess
	}
	sess.State = models.SessionInvalid
	sess.Valid = false
	sess.RefreshAttempts++
	sess.ConsecutiveFailures++
	sess.LastError = cause.Error()
	m.halted = true
	snapshot := *sess
	m.mu.Unlock()

	m.persist(ctx, &snapshot)
	m.metrics.RecordSessionRefresh(false)
	logger.LogSessionEvent(m.logger, "refresh_failed", string(snapshot.State), cause)

	if m.cfg.MaxFailCount > 0 && snapshot.ConsecutiveFailures >= m.cfg.MaxFailCount {
		m.logger.WithFields(map[string]interface{}{
			"consecutive_failures": snapshot.ConsecutiveFailures,
			"max_fail_count":       m.cfg.MaxFailCount,
		}).Error("CRITICAL: session refresh keeps failing; manual intervention required")
	}

	if m.alerter != nil {
		msg := fmt.Sprintf("Session refresh failed (%d consecutive failures): %s. Check processing is halted until credentials are updated or a manual refresh succeeds.",
			snapshot.ConsecutiveFailures, cause.Message)
		if err := m.alerter.Alert(ctx, "Session refresh failed", msg); err != nil {
			m.logger.WithError(err).Warn("Failed to deliver session alert")
		}
	}
	return cause
}

func (m *Manager) persist(ctx context.Context, sess *models.Session) {
	if sess.Token == "" && sess.State == "" {
		return
	}
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		m.logger.WithError(err).Warn("Failed to persist session")
	}
}
