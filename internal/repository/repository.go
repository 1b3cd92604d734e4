package repository

import (
	"context"
	"errors"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user. Duplicate email or username yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByUsername retrieves a user by their username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user from the store by their identifier.
	Delete(ctx context.Context, id string) error
}

// SessionRepository stores at most one SessionRecord per user.
//
// All writes are atomic per user: readers observe either the previous record
// or the new one, never a mix of old and new token hashes.
type SessionRepository interface {
	// GetByUser returns the user's record or apperrors.ErrNotFound.
	GetByUser(ctx context.Context, userID string) (*domain.SessionRecord, error)

	// Upsert creates the record or overwrites it unconditionally.
	Upsert(ctx context.Context, rec *domain.SessionRecord) error

	// CompareAndSwap replaces the record only while its refresh hash still
	// equals expectedRefreshHash. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, expectedRefreshHash string, rec *domain.SessionRecord) (bool, error)

	// Invalidate removes the record. Removing a missing record is not an error.
	Invalidate(ctx context.Context, userID string) error
}

// ErrCodeLocked is returned by CodeRepository.Save while too many wrong
// guesses block new codes for the same purpose and email.
var ErrCodeLocked = errors.New("verification code locked after too many attempts")

// CodeRepository stores one-time verification codes.
//
// Wrong guesses are counted per (purpose, email), not per code: a re-sent
// code inherits the counter. Once the limit is reached the code is burnt and
// the counter stays until the window of the last saved code expires.
type CodeRepository interface {
	// Save stores code for (purpose, email), replacing any previous one and
	// keeping its attempt counter. It fails with ErrCodeLocked at the limit.
	Save(ctx context.Context, purpose domain.CodePurpose, email, code string, ttl time.Duration) error

	// Consume deletes the code and reports true only if it matched and had not expired.
	Consume(ctx context.Context, purpose domain.CodePurpose, email, code string) (bool, error)
}
