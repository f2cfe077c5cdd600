package check

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/watchover/watchover/internal/pkg/ctxlog"
	"github.com/watchover/watchover/internal/pkg/httputil"
)

// Handler handles inbound heartbeat pulses.
type Handler struct {
	repo Repository
}

// NewHandler creates a heartbeat handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers the heartbeat intake routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/heartbeats/{token}", h.RecordPulse)
	// GET supported for curl-from-cron convenience
	r.Get("/heartbeats/{token}", h.RecordPulse)
}

// RecordPulse records one pulse for the heartbeat target identified by token.
func (h *Handler) RecordPulse(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		httputil.Error(w, http.StatusBadRequest, "missing heartbeat token")
		return
	}

	target, err := h.repo.RecordPulse(r.Context(), token, time.Now())
	if err != nil {
		ctxlog.FromContext(r.Context()).Warn("heartbeat pulse rejected", "error", err)
		httputil.Error(w, http.StatusNotFound, "unknown heartbeat token")
		return
	}

	ctxlog.FromContext(r.Context()).Debug("heartbeat pulse recorded", "target_id", target.ID)
	httputil.Success(w, http.StatusOK, map[string]string{"target_id": target.ID})
}
