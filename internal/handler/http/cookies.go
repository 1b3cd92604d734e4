package http

import (
	"net/http"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
)

// Cookie names of the two session credentials.
const (
	AccessCookie  = "auth_access"
	RefreshCookie = "auth_refresh"
)

// CookieConfig controls the attributes of session cookies.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
	Domain string
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// setSessionCookies writes both credentials of pair to the response.
func setSessionCookies(w http.ResponseWriter, cfg CookieConfig, pair *domain.TokenPair) {
	maxAge := int(cfg.MaxAge.Seconds())
	http.SetCookie(w, cfg.cookie(AccessCookie, pair.AccessToken, maxAge))
	http.SetCookie(w, cfg.cookie(RefreshCookie, pair.RefreshToken, maxAge))
}

// clearSessionCookies expires both credentials on the client.
func clearSessionCookies(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, cfg.cookie(AccessCookie, "", -1))
	http.SetCookie(w, cfg.cookie(RefreshCookie, "", -1))
}

// readCredentials returns the non-empty credential cookies of r.
func readCredentials(r *http.Request) (access, refresh string) {
	if c, err := r.Cookie(AccessCookie); err == nil {
		access = c.Value
	}
	if c, err := r.Cookie(RefreshCookie); err == nil {
		refresh = c.Value
	}
	return access, refresh
}
