package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/pkg/database"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL.
// Each write is a single statement, so a record is never half updated.
type SessionRepository struct {
	db database.DBTX
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetByUser returns the user's session or apperrors.ErrNotFound.
func (r *SessionRepository) GetByUser(ctx context.Context, userID string) (_ *domain.SessionRecord, err error) {
	query := `
		SELECT user_id, access_token_hash, refresh_token_hash, created_at, updated_at
		FROM sessions
		WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "GetSession", query)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	var rec domain.SessionRecord
	err = r.db.QueryRow(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.AccessTokenHash,
		&rec.RefreshTokenHash,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &rec, nil
}

// Upsert inserts the session or overwrites the existing one for the user.
func (r *SessionRepository) Upsert(ctx context.Context, rec *domain.SessionRecord) (err error) {
	query := `
		INSERT INTO sessions (user_id, access_token_hash, refresh_token_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET access_token_hash = EXCLUDED.access_token_hash,
		    refresh_token_hash = EXCLUDED.refresh_token_hash,
		    updated_at = EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, "UpsertSession", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		rec.UserID,
		rec.AccessTokenHash,
		rec.RefreshTokenHash,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// CompareAndSwap updates the session only while the stored refresh hash is
// still expectedRefreshHash. Row-level locking in the UPDATE makes concurrent
// swaps from several processes race safely: exactly one of them matches.
func (r *SessionRepository) CompareAndSwap(ctx context.Context, expectedRefreshHash string, rec *domain.SessionRecord) (_ bool, err error) {
	query := `
		UPDATE sessions
		SET access_token_hash = $1, refresh_token_hash = $2, updated_at = $3
		WHERE user_id = $4 AND refresh_token_hash = $5`

	ctx, end := database.TraceQuery(ctx, "SwapSession", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query,
		rec.AccessTokenHash,
		rec.RefreshTokenHash,
		rec.UpdatedAt,
		rec.UserID,
		expectedRefreshHash,
	)
	if err != nil {
		return false, fmt.Errorf("swap session: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Invalidate deletes the user's session.
func (r *SessionRepository) Invalidate(ctx context.Context, userID string) (err error) {
	query := `DELETE FROM sessions WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "InvalidateSession", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}
