package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/service"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
	"github.com/PaulSamPS/e-commerce-server/pkg/httputil"
	"github.com/PaulSamPS/e-commerce-server/pkg/middleware"
)

// Guard outcomes reported on auth_guard_outcomes_total.
const (
	outcomeAuthorized     = "authorized"
	outcomeRotated        = "rotated"
	outcomeMissing        = "missing_credentials"
	outcomeExpiredNoRenew = "expired_no_refresh"
	outcomeInvalidAccess  = "invalid_access"
	outcomeInvalidRefresh = "invalid_refresh"
	outcomeCanceled       = "canceled"
	outcomeError          = "error"
)

// statusClientClosedRequest answers a request whose client went away
// before the rotation finished. Nobody reads it, but logs and metrics do.
const statusClientClosedRequest = 499

var guardOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_guard_outcomes_total",
		Help: "Authentication guard decisions by outcome.",
	},
	[]string{"outcome"},
)

// Verifier checks a signed token of the given kind.
type Verifier interface {
	Verify(token string, kind auth.Kind) (auth.Verified, error)
}

// Rotator exchanges a refresh token for a new pair.
type Rotator interface {
	Rotate(ctx context.Context, refreshToken string) (*service.Rotated, error)
}

// Guard authenticates requests from the session cookies. A verified access
// token admits the request as is. Otherwise the refresh token is rotated,
// the renewed cookies are set on the response and the request proceeds with
// the refreshed principal. Every other case is rejected with 401 before the
// wrapped handler runs.
type Guard struct {
	verifier Verifier
	rotator  Rotator
	cookies  CookieConfig
	logger   *slog.Logger
}

// NewGuard creates a new authentication guard.
func NewGuard(verifier Verifier, rotator Rotator, cookies CookieConfig, logger *slog.Logger) *Guard {
	return &Guard{verifier: verifier, rotator: rotator, cookies: cookies, logger: logger}
}

// Middleware returns the guard as chi-compatible middleware.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, refresh := readCredentials(r)
		if access == "" && refresh == "" {
			g.reject(w, r, outcomeMissing, apperrors.Unauthenticated(
				"MISSING_CREDENTIALS", "authentication required", auth.ErrMissingCredentials))
			return
		}

		var accessErr error
		if access != "" {
			verified, err := g.verifier.Verify(access, auth.KindAccess)
			if err == nil {
				guardOutcomesTotal.WithLabelValues(outcomeAuthorized).Inc()
				next.ServeHTTP(w, r.WithContext(withVerified(r.Context(), verified)))
				return
			}
			accessErr = err
		}

		if refresh == "" {
			if errors.Is(accessErr, auth.ErrTokenExpired) {
				g.reject(w, r, outcomeExpiredNoRenew, apperrors.Unauthenticated(
					"TOKEN_EXPIRED", "access token expired", auth.ErrExpiredNoRefresh))
				return
			}
			g.reject(w, r, outcomeInvalidAccess, apperrors.Unauthenticated(
				"INVALID_ACCESS", "invalid access token", auth.ErrInvalidAccess))
			return
		}

		rotated, err := g.rotator.Rotate(r.Context(), refresh)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrInvalidRefresh):
			g.reject(w, r, outcomeInvalidRefresh, apperrors.Unauthenticated(
				"INVALID_REFRESH", "session expired, please log in again", err))
			return
		case errors.Is(err, context.Canceled):
			guardOutcomesTotal.WithLabelValues(outcomeCanceled).Inc()
			g.logger.DebugContext(r.Context(), "client went away during rotation",
				slog.String("path", r.URL.Path),
			)
			w.WriteHeader(statusClientClosedRequest)
			return
		default:
			guardOutcomesTotal.WithLabelValues(outcomeError).Inc()
			httputil.WriteError(w, r, err, g.logger)
			return
		}

		setSessionCookies(w, g.cookies, rotated.Pair)
		guardOutcomesTotal.WithLabelValues(outcomeRotated).Inc()
		next.ServeHTTP(w, r.WithContext(withVerified(r.Context(), rotated.Access)))
	})
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, outcome string, err *apperrors.AppError) {
	guardOutcomesTotal.WithLabelValues(outcome).Inc()
	g.logger.DebugContext(r.Context(), "request rejected by guard",
		slog.String("outcome", outcome),
		slog.String("path", r.URL.Path),
	)
	httputil.WriteError(w, r, err, g.logger)
}

func withVerified(ctx context.Context, v auth.Verified) context.Context {
	ctx = auth.NewContext(ctx, v)
	return middleware.WithUserID(ctx, v.Principal().ID)
}

// RequireCapability admits only requests whose verified principal holds
// capability. It must run behind the Guard; without a verified principal the
// request is rejected as unauthenticated.
func RequireCapability(capability auth.Capability, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := auth.Authorize(r.Context(), capability)
			switch {
			case errors.Is(err, auth.ErrUnauthenticated):
				httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), logger)
				return
			case errors.Is(err, auth.ErrForbidden):
				logger.WarnContext(r.Context(), "capability denied",
					slog.String("user_id", p.ID),
					slog.String("capability", string(capability)),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), logger)
				return
			case err != nil:
				httputil.WriteError(w, r, err, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
