package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"igmutual/pkg/engine"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
)

type handler struct {
	svc    Service
	logger logger.Logger
}

type enqueueRequest struct {
	Target   string `json:"target"`
	Platform string `json:"platform"`
}

type enqueueResponse struct {
	CheckID  string `json:"check_id"`
	Position int    `json:"position"`
}

type resultsResponse struct {
	CheckID   string                   `json:"check_id"`
	Total     int                      `json:"total"`
	NonMutual []models.NonMutualResult `json:"non_mutual"`
}

type credentialsRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret"`
}

type sessionRequest struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// POST /api/v1/checks
func (h *handler) enqueueCheck(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", "target is required")
		return
	}

	id, pos, err := h.svc.EnqueueCheck(r.Context(), req.Target, req.Platform)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/checks/"+id)
	writeJSON(w, http.StatusAccepted, enqueueResponse{CheckID: id, Position: pos})
}

// GET /api/v1/checks/{id}
func (h *handler) getCheck(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetCheckStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /api/v1/checks/{id}/results
func (h *handler) getResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := h.svc.GetResults(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{CheckID: id, Total: len(results), NonMutual: results})
}

// DELETE /api/v1/checks/{id}
func (h *handler) cancelCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GET /api/v1/queue
func (h *handler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.QueueStats(r.Context())
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PUT /api/v1/admin/credentials
func (h *handler) setCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "username and password are required")
		return
	}
	if err := h.svc.SetCredentials(r.Context(), req.Username, req.Password, req.TOTPSecret); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/v1/admin/session
func (h *handler) setSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "token is required")
		return
	}
	if err := h.svc.SetSession(r.Context(), req.Token); err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.GetSessionHealth(r.Context()))
}

// POST /api/v1/admin/session/refresh
func (h *handler) refreshSession(w http.ResponseWriter, r *http.Request) {
	health, err := h.svc.ForceRefresh(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Manual session refresh failed")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  errorResponse{Code: string(errs.ReasonOf(err)), Message: err.Error()},
			"health": health,
		})
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// GET /api/v1/admin/session/health
func (h *handler) sessionHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetSessionHealth(r.Context()))
}

// GET /healthz
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serviceError maps engine errors to status codes
func (h *handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrCheckNotFound):
		writeError(w, http.StatusNotFound, "CHECK_NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrNotCompleted):
		writeError(w, http.StatusConflict, "NOT_COMPLETED", err.Error())
	case errors.Is(err, engine.ErrAlreadyFinished):
		writeError(w, http.StatusConflict, "ALREADY_FINISHED", err.Error())
	case errors.Is(err, engine.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
	case errors.Is(err, engine.ErrUnsupportedPlatform):
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_PLATFORM", err.Error())
	case errs.Is(err, errs.ReasonUnauthorized):
		writeError(w, http.StatusBadRequest, "SESSION_REJECTED", err.Error())
	default:
		h.logger.WithError(err).Error("Request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
