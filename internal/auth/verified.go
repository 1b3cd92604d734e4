package auth

import (
	"context"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
)

// Verified is the result of a successful Signer.Verify. Its fields are
// unexported so no other package can fabricate one from unverified input.
type Verified struct {
	principal domain.Principal
	kind      Kind
	tokenID   string
	expiresAt time.Time
	valid     bool
}

// Principal returns the verified identity snapshot.
func (v Verified) Principal() domain.Principal { return v.principal }

// Kind returns the kind the token was verified as.
func (v Verified) Kind() Kind { return v.kind }

// TokenID returns the jti claim.
func (v Verified) TokenID() string { return v.tokenID }

// ExpiresAt returns the token expiry.
func (v Verified) ExpiresAt() time.Time { return v.expiresAt }

// Valid reports whether v came from a successful verification.
func (v Verified) Valid() bool { return v.valid }

type verifiedKey struct{}

// NewContext returns ctx carrying v.
func NewContext(ctx context.Context, v Verified) context.Context {
	return context.WithValue(ctx, verifiedKey{}, v)
}

// FromContext returns the verified principal stored by the guard.
func FromContext(ctx context.Context) (Verified, bool) {
	v, ok := ctx.Value(verifiedKey{}).(Verified)
	if !ok || !v.valid {
		return Verified{}, false
	}
	return v, true
}

// PrincipalFromContext is a shorthand for handlers behind the guard.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	v, ok := FromContext(ctx)
	if !ok {
		return domain.Principal{}, false
	}
	return v.principal, true
}
