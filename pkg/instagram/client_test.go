package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *logger.TestLogger) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := logger.NewTestLogger()
	client := NewClient(&config.InstagramConfig{
		BaseURL:        server.URL,
		UserAgent:      "test-agent",
		RequestTimeout: 5 * time.Second,
	}, log)
	return client, log
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func profileBody(id, username string, private bool, following, followers int) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{
				"id":               id,
				"username":         username,
				"full_name":        "Full " + username,
				"is_private":       private,
				"is_verified":      true,
				"edge_follow":      map[string]interface{}{"count": following},
				"edge_followed_by": map[string]interface{}{"count": followers},
			},
		},
		"status": "ok",
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(&config.InstagramConfig{RequestTimeout: time.Second}, logger.NewNopLogger())

	assert.Equal(t, BaseURL, client.BaseURL())
	assert.Equal(t, AppID, client.headers["X-IG-App-ID"])
	assert.Equal(t, "XMLHttpRequest", client.headers["X-Requested-With"])
}

func TestFetchProfile(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ProfileEndpoint, r.URL.Path)
		assert.Equal(t, "target", r.URL.Query().Get("username"))
		assert.Equal(t, AppID, r.Header.Get("X-IG-App-ID"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		cookie, err := r.Cookie("sessionid")
		require.NoError(t, err)
		assert.Equal(t, "tok-123", cookie.Value)

		writeJSON(w, http.StatusOK, profileBody("777", "target", false, 120, 80))
	})

	profile, err := client.FetchProfile(context.Background(), "tok-123", "target")
	require.NoError(t, err)
	assert.Equal(t, "777", profile.ID)
	assert.Equal(t, "Full target", profile.FullName)
	assert.Equal(t, 120, profile.FollowingCount)
	assert.Equal(t, 80, profile.FollowersCount)
	assert.True(t, profile.IsVerified)
}

func TestFetchProfileMissingUser(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"user": nil}, "status": "ok"})
	})

	_, err := client.FetchProfile(context.Background(), "tok", "ghost")
	require.Error(t, err)
	assert.Equal(t, errs.ReasonTargetNotFound, errs.ReasonOf(err))
}

func TestResponseClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    errs.Reason
	}{
		{
			name:    "unauthorized status",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			want:    errs.ReasonUnauthorized,
		},
		{
			name: "redirect to login",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/accounts/login/?next=/graphql/", http.StatusFound)
			},
			want: errs.ReasonUnauthorized,
		},
		{
			name: "require_login body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]interface{}{"require_login": true, "status": "fail"})
			},
			want: errs.ReasonUnauthorized,
		},
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			want:    errs.ReasonTargetNotFound,
		},
		{
			name:    "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			want:    errs.ReasonPrivateTarget,
		},
		{
			name:    "too many requests",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    errs.ReasonRateLimited,
		},
		{
			name: "please wait body on bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"message": "Please wait a few minutes before you try again.",
					"status":  "fail",
				})
			},
			want: errs.ReasonRateLimited,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    errs.ReasonTransientFailure,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("<html>not json</html>"))
			},
			want: errs.ReasonTransientFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)

			_, err := client.FetchRelationPage(context.Background(), "tok", RelationFollowers, "42", 50, "")
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.ReasonOf(err))
		})
	}
}

func TestFetchRelationPage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, GraphQLEndpoint, r.URL.Path)
		assert.Equal(t, FollowingQueryHash, r.URL.Query().Get("query_hash"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"user": map[string]interface{}{
					"edge_follow": map[string]interface{}{
						"count":     3,
						"page_info": map[string]interface{}{"has_next_page": true, "end_cursor": "CUR2"},
						"edges": []interface{}{
							map[string]interface{}{"node": map[string]interface{}{"id": "1", "username": "a"}},
							map[string]interface{}{"node": map[string]interface{}{"id": "2", "username": "b", "is_private": true}},
						},
					},
				},
			},
			"status": "ok",
		})
	})

	page, err := client.FetchRelationPage(context.Background(), "tok", RelationFollowing, "42", 50, "")
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.True(t, page.HasNext)
	assert.Equal(t, "CUR2", page.NextCursor)
	require.Len(t, page.Users, 2)
	assert.Equal(t, "b", page.Users[1].Username)
	assert.True(t, page.Users[1].IsPrivate)
}

func TestFetchRelationPageMissingEdge(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data":   map[string]interface{}{"user": map[string]interface{}{}},
			"status": "ok",
		})
	})

	_, err := client.FetchRelationPage(context.Background(), "tok", RelationFollowers, "42", 50, "")
	assert.Equal(t, errs.ReasonPrivateTarget, errs.ReasonOf(err))
}

func TestFetchCancelledContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.FetchProfile(ctx, "tok", "target")
	assert.Equal(t, errs.ReasonCancelled, errs.ReasonOf(err))
}

func TestValidateSession(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err == nil && c.Value == "good" {
			writeJSON(w, http.StatusOK, profileBody("25025320", ValidationUsername, false, 1, 1))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	assert.NoError(t, client.ValidateSession(context.Background(), "good"))
	assert.Equal(t, errs.ReasonUnauthorized, errs.ReasonOf(client.ValidateSession(context.Background(), "stale")))
	assert.Equal(t, errs.ReasonUnauthorized, errs.ReasonOf(client.ValidateSession(context.Background(), "")))
}

func TestClientLogsWarnings(t *testing.T) {
	client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, _ = client.FetchProfile(context.Background(), "tok", "target")
	assert.True(t, log.HasMessage("rate limit exceeded"))
	warn := log.GetMessagesByLevel("WARN")
	require.NotEmpty(t, warn)
	assert.Equal(t, "instagram", warn[0].Fields["component"])
}
