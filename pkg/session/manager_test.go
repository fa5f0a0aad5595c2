package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmutual/pkg/auth"
	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
)

type memRepo struct {
	mu    sync.Mutex
	sess  *models.Session
	saves int
}

func (r *memRepo) LoadSession(ctx context.Context) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil, nil
	}
	s := *r.sess
	return &s, nil
}

func (r *memRepo) SaveSession(ctx context.Context, sess *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *sess
	r.sess = &s
	r.saves++
	return nil
}

type fakeAuth struct {
	logins   atomic.Int32
	gate     chan struct{}
	loginErr error
	validErr error
}

func (f *fakeAuth) Login(ctx context.Context, username, password, totpSecret string) (*instagram.LoginResult, error) {
	n := f.logins.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &instagram.LoginResult{SessionID: fmt.Sprintf("session-token-%04d", n), CSRFToken: "csrf"}, nil
}

func (f *fakeAuth) ValidateSession(ctx context.Context, token string) error {
	return f.validErr
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) Alert(ctx context.Context, subject, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, subject)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func testConfig() config.SessionConfig {
	return config.SessionConfig{
		MaxAge:          72 * time.Hour,
		RefreshInterval: 72 * time.Hour,
		MaxFailCount:    3,
	}
}

func newTestManager(t *testing.T, fa *fakeAuth, withCreds bool, opts ...Option) (*Manager, *memRepo, *auth.Manager) {
	t.Helper()
	creds, _ := auth.NewMockManager()
	if withCreds {
		require.NoError(t, creds.Set("scraper", "password", ""))
	}
	repo := &memRepo{}
	m := NewManager(testConfig(), repo, fa, creds, opts...)
	require.NoError(t, m.Load(context.Background()))
	return m, repo, creds
}

// runTogether starts n callers and releases the gated login once they
// have all had time to join the flight.
func runTogether(n int, fa *fakeAuth, call func() (models.Session, error)) ([]models.Session, []error) {
	var wg sync.WaitGroup
	sessions := make([]models.Session, n)
	errList := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errList[i] = call()
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(fa.gate)
	wg.Wait()
	return sessions, errList
}

func TestConcurrentRefreshSingleLogin(t *testing.T) {
	fa := &fakeAuth{gate: make(chan struct{})}
	m, repo, _ := newTestManager(t, fa, true)
	ctx := context.Background()

	sessions, errList := runTogether(10, fa, func() (models.Session, error) { return m.Refresh(ctx) })

	assert.Equal(t, int32(1), fa.logins.Load())
	for i := range sessions {
		require.NoError(t, errList[i])
		assert.Equal(t, sessions[0].Token, sessions[i].Token)
	}
	assert.Equal(t, models.SessionActive, sessions[0].State)
	assert.Equal(t, sessions[0].Token, repo.sess.Token)
}

func TestReportUnauthorizedCollapses(t *testing.T) {
	fa := &fakeAuth{gate: make(chan struct{})}
	m, _, _ := newTestManager(t, fa, true)
	ctx := context.Background()

	close(fa.gate)
	first, err := m.Refresh(ctx)
	require.NoError(t, err)
	fa.gate = make(chan struct{})

	sessions, errList := runTogether(5, fa, func() (models.Session, error) {
		return m.ReportUnauthorized(ctx, first.Token)
	})

	assert.Equal(t, int32(2), fa.logins.Load(), "stale reports share one login")
	for i := range sessions {
		require.NoError(t, errList[i])
		assert.NotEqual(t, first.Token, sessions[i].Token)
	}

	// A late report of the replaced token gets the current one without a login
	again, err := m.ReportUnauthorized(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, sessions[0].Token, again.Token)
	assert.Equal(t, int32(2), fa.logins.Load())
}

func TestRefreshFailureHalts(t *testing.T) {
	fa := &fakeAuth{loginErr: errors.New("checkpoint required")}
	alerter := &fakeAlerter{}
	log := logger.NewTestLogger()
	m, repo, creds := newTestManager(t, fa, true, WithAlerter(alerter), WithLogger(log))
	ctx := context.Background()

	_, err := m.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ReasonSessionRefreshFailed))
	assert.True(t, m.Halted())
	assert.Equal(t, 1, alerter.count())
	assert.Equal(t, models.SessionInvalid, repo.sess.State)

	stored, _ := creds.Get()
	assert.False(t, stored.LastLoginSuccess)

	// No automatic retry while halted
	_, err = m.Acquire(ctx)
	assert.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, int32(1), fa.logins.Load())

	// Updated credentials clear the halt
	fa.loginErr = nil
	m.Resume()
	sess, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.State)
	assert.False(t, m.Halted())
}

func TestCriticalLogAfterMaxFailures(t *testing.T) {
	fa := &fakeAuth{loginErr: errors.New("bad password")}
	log := logger.NewTestLogger()
	m, _, _ := newTestManager(t, fa, true, WithLogger(log))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = m.ForceRefresh(ctx)
	}
	assert.True(t, log.HasMessageContaining("CRITICAL"))
	assert.Equal(t, 3, m.Health(ctx).ConsecutiveFailures)
}

func TestNoCredentials(t *testing.T) {
	fa := &fakeAuth{}
	m, _, _ := newTestManager(t, fa, false)

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, int32(0), fa.logins.Load())
	assert.True(t, m.Halted())
}

func TestDegradedTransitions(t *testing.T) {
	fa := &fakeAuth{}
	m, _, _ := newTestManager(t, fa, true)
	ctx := context.Background()

	_, err := m.Refresh(ctx)
	require.NoError(t, err)

	m.ReportFailure(ctx, errors.New("timeout"))
	h := m.Health(ctx)
	assert.Equal(t, models.SessionDegraded, h.State)
	assert.Equal(t, 1, h.ConsecutiveFailures)

	// Degraded sessions are still handed out
	sess, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SessionDegraded, sess.State)

	m.ReportSuccess(ctx)
	h = m.Health(ctx)
	assert.Equal(t, models.SessionActive, h.State)
	assert.Equal(t, 0, h.ConsecutiveFailures)
}

func TestCheckProactive(t *testing.T) {
	fa := &fakeAuth{}
	now := time.Now()
	clock := func() time.Time { return now }
	m, _, _ := newTestManager(t, fa, true, WithClock(clock))
	ctx := context.Background()

	// No session and credentials exist
	refreshed, err := m.CheckProactive(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)

	refreshed, err = m.CheckProactive(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed, "fresh session is left alone")

	now = now.Add(73 * time.Hour)
	refreshed, err = m.CheckProactive(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, int32(2), fa.logins.Load())
}

func TestValidateUnauthorizedRefreshes(t *testing.T) {
	fa := &fakeAuth{}
	m, _, _ := newTestManager(t, fa, true)
	ctx := context.Background()

	assert.ErrorIs(t, m.Validate(ctx), ErrNoSession)

	first, err := m.Refresh(ctx)
	require.NoError(t, err)

	fa.validErr = errs.New(errs.ReasonUnauthorized, errs.ErrorTypeAuth, 401, "login required")
	err = m.Validate(ctx)
	require.Error(t, err)

	sess, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, sess.Token)
}

func TestSetSessionAndHealth(t *testing.T) {
	fa := &fakeAuth{}
	m, repo, _ := newTestManager(t, fa, false)
	ctx := context.Background()

	fa.validErr = errs.New(errs.ReasonUnauthorized, errs.ErrorTypeAuth, 401, "login required")
	assert.Error(t, m.SetSession(ctx, "rejected-token-value"))

	fa.validErr = nil
	require.NoError(t, m.SetSession(ctx, "abcdefgh12345678wxyz"))
	assert.Equal(t, "abcdefgh12345678wxyz", repo.sess.Token)

	h := m.Health(ctx)
	assert.True(t, h.Active)
	assert.True(t, h.Valid)
	assert.False(t, h.HasCredentials)
	assert.Equal(t, "abcdefgh...wxyz", h.TokenPreview)
	assert.NotContains(t, h.TokenPreview, "12345678")
}

func TestLoadSeedsConfiguredToken(t *testing.T) {
	repo := &memRepo{}
	cfg := testConfig()
	cfg.Token = "seeded-token-0000"
	creds, _ := auth.NewMockManager()
	m := NewManager(cfg, repo, &fakeAuth{}, creds)
	require.NoError(t, m.Load(context.Background()))

	sess, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "seeded-token-0000", sess.Token)
	require.NotNil(t, repo.sess)
}
