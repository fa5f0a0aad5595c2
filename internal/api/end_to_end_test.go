package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmutual/internal/igtest"
	"igmutual/internal/store"
	"igmutual/pkg/auth"
	"igmutual/pkg/config"
	"igmutual/pkg/engine"
	"igmutual/pkg/instagram"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
	"igmutual/pkg/queue"
	"igmutual/pkg/scraper"
	"igmutual/pkg/session"
)

type staticAuth struct{}

func (staticAuth) Login(ctx context.Context, username, password, totpSecret string) (*instagram.LoginResult, error) {
	return &instagram.LoginResult{SessionID: "fresh-login-token", CSRFToken: "csrf"}, nil
}

func (staticAuth) ValidateSession(ctx context.Context, token string) error {
	return nil
}

// startStack runs the engine against a fake Instagram behind the HTTP API
func startStack(t *testing.T) (*httptest.Server, *igtest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.DefaultConfig()
	cfg.Scraper.PageSize = 25
	cfg.Scraper.PageDelayMin = 0
	cfg.Scraper.PageDelayMax = 0
	cfg.Scraper.RelationPause = 0
	cfg.RateLimit.RequestsPerMinute = 0
	cfg.Queue.PollInterval = 20 * time.Millisecond
	cfg.Session.ProactiveInterval = 0
	cfg.Session.HealthCheckInterval = 0

	ig := igtest.NewServer()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "api.db"), logger.NewNopLogger())
	require.NoError(t, err)

	creds, _ := auth.NewMockManager()
	sessions := session.NewManager(cfg.Session, st, staticAuth{}, creds)
	require.NoError(t, sessions.Load(ctx))
	require.NoError(t, sessions.SetSession(ctx, "browser-session-token"))

	client := instagram.NewClient(&config.InstagramConfig{BaseURL: ig.URL, RequestTimeout: 5 * time.Second}, logger.NewNopLogger())
	eng := engine.New(cfg, engine.Deps{
		Repo:        st,
		Queue:       queue.New(st, cfg.Queue.MaxConcurrent),
		Fetcher:     scraper.New(client, sessions, cfg.Scraper, cfg.RateLimit),
		Sessions:    sessions,
		Credentials: creds,
		Checkpoints: st.Checkpoints(),
		Logger:      logger.NewNopLogger(),
	})
	require.NoError(t, eng.Start(ctx))

	srv := httptest.NewServer(NewRouter(&RouterDeps{
		Service:    eng,
		AdminToken: "admin",
		Logger:     logger.NewNopLogger(),
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		eng.Stop()
		st.Close()
		ig.Close()
	})
	return srv, ig
}

func call(t *testing.T, method, url, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AdminTokenHeader, "admin")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func waitFinished(t *testing.T, base, id string) engine.Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var st engine.Status
		require.Equal(t, http.StatusOK, call(t, http.MethodGet, base+"/api/v1/checks/"+id, "", &st))
		if st.Status.Terminal() {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("check %s did not finish", id)
	return engine.Status{}
}

func TestEndToEndCheck(t *testing.T) {
	srv, ig := startStack(t)

	following := igtest.Handles("f", 60)
	followers := append(append([]string{}, following[:45]...), igtest.Handles("fan", 10)...)
	ig.AddAccount(igtest.Account{ID: "777", Username: "natgeo", Following: following, Followers: followers})

	var accepted enqueueResponse
	code := call(t, http.MethodPost, srv.URL+"/api/v1/checks", `{"target":"https://www.instagram.com/NatGeo/"}`, &accepted)
	require.Equal(t, http.StatusAccepted, code)
	require.NotEmpty(t, accepted.CheckID)

	st := waitFinished(t, srv.URL, accepted.CheckID)
	require.Equal(t, models.CheckCompleted, st.Status, "error: %s %s", st.ErrorReason, st.ErrorMessage)
	assert.Equal(t, "natgeo", st.Target)
	assert.Equal(t, 100, st.ProgressPercent)
	assert.Equal(t, models.Counts{Following: 60, Followers: 55, NonMutual: 15}, st.Counts)

	var results resultsResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/api/v1/checks/"+accepted.CheckID+"/results", "", &results))
	require.Len(t, results.NonMutual, 15)
	assert.Equal(t, 15, results.Total)
	for i, r := range results.NonMutual {
		assert.Equal(t, following[45+i], r.Handle)
		assert.Equal(t, i+1, r.Ordinal)
	}

	// A second check inside the freshness window reuses the result
	var again enqueueResponse
	require.Equal(t, http.StatusAccepted, call(t, http.MethodPost, srv.URL+"/api/v1/checks", `{"target":"natgeo"}`, &again))
	cached := waitFinished(t, srv.URL, again.CheckID)
	assert.Equal(t, models.CheckCompleted, cached.Status)
	assert.True(t, cached.CacheUsed)
	assert.Equal(t, accepted.CheckID, cached.SourceCheckID)
	assert.Len(t, ig.RequestsOf("profile"), 1, "cache hit does not contact the platform")
}

func TestEndToEndTargetNotFound(t *testing.T) {
	srv, _ := startStack(t)

	var accepted enqueueResponse
	require.Equal(t, http.StatusAccepted, call(t, http.MethodPost, srv.URL+"/api/v1/checks", `{"target":"ghost_account"}`, &accepted))

	st := waitFinished(t, srv.URL, accepted.CheckID)
	assert.Equal(t, models.CheckFailed, st.Status)
	assert.Equal(t, "target_not_found", st.ErrorReason)

	var body errorResponse
	code := call(t, http.MethodGet, srv.URL+"/api/v1/checks/"+accepted.CheckID+"/results", "", &body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "NOT_COMPLETED", body.Code)
}

func TestEndToEndSessionHealth(t *testing.T) {
	srv, _ := startStack(t)

	var health session.Health
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/api/v1/admin/session/health", "", &health))
	assert.True(t, health.Active)
	assert.False(t, health.HasCredentials)
	assert.NotContains(t, health.TokenPreview, "session-tok")

	code := call(t, http.MethodPut, srv.URL+"/api/v1/admin/credentials",
		fmt.Sprintf(`{"username":%q,"password":%q}`, "operator", "pw"), nil)
	assert.Equal(t, http.StatusNoContent, code)

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, srv.URL+"/api/v1/admin/session/health", "", &health))
	assert.True(t, health.HasCredentials)
}
