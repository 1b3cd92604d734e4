package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func doFrom(h http.Handler, remote string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	store := newVisitorStore(rate.Limit(0.001), 2, time.Minute)
	h := rateLimit(store, false, discardLogger())(okHandler())

	assert.Equal(t, http.StatusOK, doFrom(h, "1.2.3.4:1000", nil))
	assert.Equal(t, http.StatusOK, doFrom(h, "1.2.3.4:1001", nil))
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "1.2.3.4:1002", nil))

	// Another client has its own bucket.
	assert.Equal(t, http.StatusOK, doFrom(h, "5.6.7.8:1000", nil))
}

func TestRateLimit_IgnoresProxyHeadersUnlessTrusted(t *testing.T) {
	store := newVisitorStore(rate.Limit(0.001), 1, time.Minute)
	h := rateLimit(store, false, discardLogger())(okHandler())

	assert.Equal(t, http.StatusOK, doFrom(h, "1.2.3.4:1", map[string]string{"X-Forwarded-For": "9.9.9.1"}))
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "1.2.3.4:1", map[string]string{"X-Forwarded-For": "9.9.9.2"}))
}

func TestRateLimit_TrustedProxyHeaders(t *testing.T) {
	store := newVisitorStore(rate.Limit(0.001), 1, time.Minute)
	h := rateLimit(store, true, discardLogger())(okHandler())

	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "9.9.9.1, 10.0.0.1"}))
	assert.Equal(t, http.StatusOK, doFrom(h, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "9.9.9.2"}))
	assert.Equal(t, http.StatusTooManyRequests, doFrom(h, "10.0.0.1:1", map[string]string{"X-Real-IP": "9.9.9.2"}))
}

func TestVisitorStore_CleanupEvictsIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newVisitorStore(rate.Limit(1), 1, time.Minute)
	store.now = func() time.Time { return now }

	store.get("a")
	now = now.Add(30 * time.Second)
	store.get("b")
	now = now.Add(45 * time.Second)

	store.cleanup()
	assert.Equal(t, 1, store.size())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(req, false))

	req.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", clientIP(req, false))
}
