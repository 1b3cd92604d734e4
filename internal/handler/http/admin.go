package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PaulSamPS/e-commerce-server/internal/service"
	"github.com/PaulSamPS/e-commerce-server/pkg/httputil"
)

// AdminHandler serves session administration endpoints. Routes require the
// Guard followed by RequireCapability(auth.CapabilityAdmin).
type AdminHandler struct {
	sessions *service.SessionService
	logger   *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(sessions *service.SessionService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sessions: sessions, logger: logger}
}

// GetSession handles GET /api/v1/admin/sessions/{userID}
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	rec, err := h.sessions.Get(r.Context(), userID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: rec})
}

// RevokeSession handles DELETE /api/v1/admin/sessions/{userID}
func (h *AdminHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParseUUID(w, chi.URLParam(r, "userID"))
	if !ok {
		return
	}

	if err := h.sessions.Revoke(r.Context(), userID.String(), service.RevokeReasonAdmin); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
