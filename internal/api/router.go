// Package api exposes the check engine over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"igmutual/pkg/engine"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
	"igmutual/pkg/queue"
	"igmutual/pkg/session"
)

// AdminTokenHeader carries the admin token on admin routes
const AdminTokenHeader = "X-Admin-Token"

// Service is the part of the engine the API serves
type Service interface {
	EnqueueCheck(ctx context.Context, target, platform string) (string, int, error)
	GetCheckStatus(ctx context.Context, checkID string) (*engine.Status, error)
	GetResults(ctx context.Context, checkID string) ([]models.NonMutualResult, error)
	Cancel(ctx context.Context, checkID string) error
	QueueStats(ctx context.Context) (*queue.Stats, error)
	SetCredentials(ctx context.Context, username, password, totpSecret string) error
	SetSession(ctx context.Context, token string) error
	ForceRefresh(ctx context.Context) (session.Health, error)
	GetSessionHealth(ctx context.Context) session.Health
}

var _ Service = (*engine.Engine)(nil)

// RouterDeps are the dependencies of NewRouter
type RouterDeps struct {
	Service    Service
	AdminToken string
	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  logger.Logger
}

// NewRouter builds the HTTP routes of the engine
func NewRouter(deps *RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	h := &handler{svc: deps.Service, logger: log.WithField("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/checks", func(r chi.Router) {
			r.Post("/", h.enqueueCheck)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCheck)
				r.Delete("/", h.cancelCheck)
				r.Get("/results", h.getResults)
			})
		})
		r.Get("/queue", h.queueStats)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdminToken(deps.AdminToken))
			r.Put("/credentials", h.setCredentials)
			r.Put("/session", h.setSession)
			r.Post("/session/refresh", h.refreshSession)
			r.Get("/session/health", h.sessionHealth)
		})
	})

	return r
}

// requireAdminToken rejects requests without the configured token. An
// empty token leaves the routes open.
func requireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(AdminTokenHeader)), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.DebugWithFields("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}
