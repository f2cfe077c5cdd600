package incident

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/watchover/watchover/internal/pkg/httputil"
)

// Handler exposes the operational incident transitions over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates an incident handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes registers incident routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/ack", h.Acknowledge)
		r.Post("/resolve", h.Resolve)
	})
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotFound, Status: http.StatusNotFound},
	{Error: ErrAlreadyResolved, Status: http.StatusConflict},
}

// Get returns one incident.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.manager.repo.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// Acknowledge parks an incident and cancels its escalation.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	inc, err := h.manager.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}

// Resolve terminates an incident.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	inc, err := h.manager.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, inc)
}
