package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulSamPS/e-commerce-server/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		ServiceName:         "auth-service-test",
		Version:             "test",
		Environment:         "development",
		HTTPPort:            0,
		HTTPReadTimeout:     5 * time.Second,
		HTTPWriteTimeout:    5 * time.Second,
		HTTPIdleTimeout:     5 * time.Second,
		HTTPShutdownTimeout: 2 * time.Second,
		JWTAccessSecret:     "access-secret",
		JWTRefreshSecret:    "refresh-secret",
		JWTAccessTTL:        30 * time.Minute,
		JWTRefreshTTL:       24 * time.Hour,
		JWTIssuer:           "e-commerce-server",
		CookieMaxAge:        24 * time.Hour,
		SessionStore:        config.StoreMemory,
		RotationTimeout:     time.Second,
		VerificationCodeTTL: time.Hour,
		KafkaEnabled:        false,
		OTELEnabled:         false,
		AuthRateLimitRPS:    100,
		AuthRateLimitBurst:  100,
		CORSAllowedOrigins:  []string{"http://localhost:3000"},
		PprofAllowedCIDRs:   []string{"127.0.0.0/8"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewApp_MemoryStores(t *testing.T) {
	a, err := NewApp(memoryConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.Nil(t, a.pool)
	assert.Nil(t, a.redis)
	assert.Nil(t, a.producer)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "MISSING_CREDENTIALS")
}

func TestNewApp_RejectsBadSecrets(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWTRefreshSecret = ""

	_, err := NewApp(cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create token signer")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a, err := NewApp(memoryConfig(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
