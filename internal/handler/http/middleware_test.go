package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeJSON(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		wantCode    int
	}{
		{"json body", http.MethodPost, `{"a":1}`, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, `{"a":1}`, "application/json; charset=utf-8", http.StatusOK},
		{"no content type", http.MethodPost, `{"a":1}`, "", http.StatusOK},
		{"empty post", http.MethodPost, "", "text/plain", http.StatusOK},
		{"get", http.MethodGet, "", "", http.StatusOK},
		{"form body", http.MethodPost, "a=1", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"text body", http.MethodPut, "hello", "text/plain", http.StatusUnsupportedMediaType},
		{"malformed type", http.MethodPost, `{"a":1}`, "application/", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/test", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantCode == http.StatusOK, called)
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, rr.Body.String(), "UNSUPPORTED_MEDIA_TYPE")
			}
		})
	}
}
