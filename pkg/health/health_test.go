package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func ready(t *testing.T, h *Handler) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down)

	rec := httptest.NewRecorder()
	h.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUp, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestReadinessHandler_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		critical    map[string]Checker
		nonCritical map[string]Checker
		wantCode    int
		wantStatus  Status
	}{
		{"no checks", nil, nil, http.StatusOK, StatusUp},
		{"all up", map[string]Checker{"postgres": up, "redis": up}, map[string]Checker{"kafka": up}, http.StatusOK, StatusUp},
		{"non-critical down", map[string]Checker{"postgres": up}, map[string]Checker{"kafka": down}, http.StatusOK, StatusDegraded},
		{"critical down", map[string]Checker{"postgres": up, "redis": down}, nil, http.StatusServiceUnavailable, StatusDown},
		{"both down", map[string]Checker{"redis": down}, map[string]Checker{"kafka": down}, http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for name, c := range tt.critical {
				h.RegisterCritical(name, c)
			}
			for name, c := range tt.nonCritical {
				h.RegisterNonCritical(name, c)
			}

			code, resp := ready(t, h)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.critical)+len(tt.nonCritical))
		})
	}
}

func TestReadinessHandler_CheckDetails(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("redis", down)
	h.RegisterNonCritical("kafka", up)

	_, resp := ready(t, h)

	redis := resp.Checks["redis"]
	assert.Equal(t, StatusDown, redis.Status)
	assert.True(t, redis.Critical)
	assert.Equal(t, "connection refused", redis.Error)

	kafka := resp.Checks["kafka"]
	assert.Equal(t, StatusUp, kafka.Status)
	assert.False(t, kafka.Critical)
	assert.Empty(t, kafka.Error)
}

func TestReadinessHandler_ReRegisterReplaces(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("postgres", down)
	h.RegisterNonCritical("postgres", down)

	code, resp := ready(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestReadinessHandler_ChecksHaveDeadline(t *testing.T) {
	h := NewHandler()
	var remaining time.Duration
	h.RegisterCritical("postgres", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		remaining = time.Until(deadline)
		return nil
	})

	code, _ := ready(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, checkTimeout)
}

func TestReadinessHandler_ReportsGauge(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("gauge-up", up)
	h.RegisterNonCritical("gauge-down", down)

	ready(t, h)

	assert.Equal(t, 1.0, testutil.ToFloat64(checkUp.WithLabelValues("gauge-up")))
	assert.Equal(t, 0.0, testutil.ToFloat64(checkUp.WithLabelValues("gauge-down")))
}
