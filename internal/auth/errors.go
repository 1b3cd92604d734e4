package auth

import (
	"errors"
	"fmt"
)

// Token verification failures.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrUnknownKind  = errors.New("unknown token kind")
)

// Request authentication failures surfaced by the guard.
var (
	ErrMissingCredentials = errors.New("no credentials presented")
	ErrExpiredNoRefresh   = errors.New("access token expired and no refresh token presented")
	ErrInvalidAccess      = errors.New("access token malformed or not verifiable")
	ErrInvalidRefresh     = errors.New("refresh token invalid, expired or superseded")

	// ErrRefreshReused marks a correctly signed refresh token that no longer
	// matches the stored session.
	ErrRefreshReused = fmt.Errorf("%w: reused", ErrInvalidRefresh)

	// ErrRotationConflict is returned to the loser of a cross-process rotation race.
	ErrRotationConflict = fmt.Errorf("%w: rotated concurrently", ErrInvalidRefresh)
)

// ErrMissingSecretConfig is fatal at startup.
var ErrMissingSecretConfig = errors.New("missing token secret configuration")

// Authorization failures.
var (
	ErrUnauthenticated = errors.New("no verified principal")
	ErrForbidden       = errors.New("principal lacks required capability")
)
