package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// DefaultIssuer is used when Secrets.Issuer is empty.
const DefaultIssuer = "e-commerce-server"

// Secrets holds the per-kind signing secrets and lifetimes.
type Secrets struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Claims is the signed token payload.
type Claims struct {
	User domain.Principal `json:"user"`
	Kind Kind             `json:"kind"`
	jwt.RegisteredClaims
}

type kindConfig struct {
	secret []byte
	ttl    time.Duration
}

// Signer issues and verifies HS256 tokens. Each kind has its own secret, so a
// token of one kind never verifies as the other. Signer holds no mutable state.
type Signer struct {
	kinds  map[Kind]kindConfig
	issuer string
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner validates secrets and returns a Signer. Any empty secret or
// non-positive TTL yields ErrMissingSecretConfig.
func NewSigner(secrets Secrets, opts ...Option) (*Signer, error) {
	var missing []string
	if secrets.AccessSecret == "" {
		missing = append(missing, "access secret")
	}
	if secrets.RefreshSecret == "" {
		missing = append(missing, "refresh secret")
	}
	if secrets.AccessTTL <= 0 {
		missing = append(missing, "access ttl")
	}
	if secrets.RefreshTTL <= 0 {
		missing = append(missing, "refresh ttl")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingSecretConfig, missing)
	}

	issuer := secrets.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	s := &Signer{
		kinds: map[Kind]kindConfig{
			KindAccess:  {secret: []byte(secrets.AccessSecret), ttl: secrets.AccessTTL},
			KindRefresh: {secret: []byte(secrets.RefreshSecret), ttl: secrets.RefreshTTL},
		},
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured lifetime for kind.
func (s *Signer) TTL(kind Kind) time.Duration {
	return s.kinds[kind].ttl
}

// Sign returns a token of the given kind embedding p and expiring after TTL[kind].
func (s *Signer) Sign(p domain.Principal, kind Kind) (string, error) {
	kc, ok := s.kinds[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := s.now().UTC()
	claims := &Claims{
		User: p,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{string(kind)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(kc.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(kc.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// IssuePair signs a fresh access and refresh token for p.
func (s *Signer) IssuePair(p domain.Principal) (*domain.TokenPair, error) {
	access, err := s.Sign(p, KindAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Sign(p, KindRefresh)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry of token
// against the secret of kind. Expiry yields ErrTokenExpired; everything else
// yields ErrTokenInvalid.
func (s *Signer) Verify(token string, kind Kind) (Verified, error) {
	kc, ok := s.kinds[kind]
	if !ok {
		return Verified{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(string(kind)),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return kc.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Verified{}, fmt.Errorf("%w: %s token", ErrTokenExpired, kind)
	case err != nil:
		return Verified{}, fmt.Errorf("%w: %s token: %v", ErrTokenInvalid, kind, err)
	}

	if claims.Kind != kind {
		return Verified{}, fmt.Errorf("%w: kind %q, want %q", ErrTokenInvalid, claims.Kind, kind)
	}
	if claims.User.ID == "" || claims.Subject != claims.User.ID {
		return Verified{}, fmt.Errorf("%w: principal missing", ErrTokenInvalid)
	}

	return Verified{
		principal: claims.User,
		kind:      kind,
		tokenID:   claims.ID,
		expiresAt: claims.ExpiresAt.Time,
		valid:     true,
	}, nil
}
