package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/PaulSamPS/e-commerce-server/pkg/logger"
)

// RequestLogger builds a request-scoped logger enriched with correlation_id,
// trace_id and span_id and stores it in the context for logger.FromContext.
//
// Mount it after RequestLogging and Tracing. The user id is not known yet at
// this point; authentication adds it later through WithUserID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUserID records an authenticated user id in ctx and adds it to the
// request-scoped logger, so every log line after authentication carries it.
func WithUserID(ctx context.Context, userID string) context.Context {
	ctx = logger.WithUserID(ctx, userID)
	if l := logger.FromContext(ctx); l != slog.Default() {
		ctx = logger.NewContext(ctx, l.With(slog.String("user_id", userID)))
	}
	return ctx
}

// UserIDFromContext returns the user id recorded by WithUserID.
func UserIDFromContext(ctx context.Context) string {
	return logger.UserIDFromContext(ctx)
}
