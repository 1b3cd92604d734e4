package http

import (
	"log/slog"
	"net/http"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/service"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
	"github.com/PaulSamPS/e-commerce-server/pkg/httputil"
)

// UserHandler serves endpoints about the authenticated user. All routes
// require the Guard.
type UserHandler struct {
	accounts *service.AccountService
	logger   *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(accounts *service.AccountService, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, logger: logger}
}

// Me handles GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	user, err := h.accounts.Profile(r.Context(), p.ID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: user})
}

// Session handles GET /api/v1/users/refresh-token. It returns the principal
// verified by the Guard, which has already renewed the cookies if the access
// token had expired.
func (h *UserHandler) Session(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: p})
}
