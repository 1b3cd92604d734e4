// Package memory provides process-local repositories for development runs
// and tests. Nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

// SessionRepository implements repository.SessionRepository with a map.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.SessionRecord
}

// NewSessionRepository creates an empty in-memory session repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.SessionRecord)}
}

// GetByUser returns a copy of the user's session or apperrors.ErrNotFound.
func (r *SessionRepository) GetByUser(_ context.Context, userID string) (*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &rec, nil
}

// Upsert stores rec, keeping the original created_at on overwrite.
func (r *SessionRepository) Upsert(_ context.Context, rec *domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *rec
	if prev, ok := r.sessions[rec.UserID]; ok {
		next.CreatedAt = prev.CreatedAt
	}
	r.sessions[rec.UserID] = next
	return nil
}

// CompareAndSwap stores rec only while the current refresh hash equals expectedRefreshHash.
func (r *SessionRepository) CompareAndSwap(_ context.Context, expectedRefreshHash string, rec *domain.SessionRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.sessions[rec.UserID]
	if !ok || prev.RefreshTokenHash != expectedRefreshHash {
		return false, nil
	}

	next := *rec
	next.CreatedAt = prev.CreatedAt
	r.sessions[rec.UserID] = next
	return true, nil
}

// Invalidate removes the user's session.
func (r *SessionRepository) Invalidate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, userID)
	return nil
}
