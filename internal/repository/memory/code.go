package memory

import (
	"context"
	"sync"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
)

const maxCodeAttempts = 5

type codeEntry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// CodeRepository implements repository.CodeRepository with a map.
type CodeRepository struct {
	mu    sync.Mutex
	codes map[string]*codeEntry
	now   func() time.Time
}

// NewCodeRepository creates an empty in-memory code repository.
func NewCodeRepository() *CodeRepository {
	return &CodeRepository{codes: make(map[string]*codeEntry), now: time.Now}
}

func codeKey(purpose domain.CodePurpose, email string) string {
	return string(purpose) + ":" + email
}

// Save stores code for ttl, replacing any previous code but keeping its
// attempt counter.
func (r *CodeRepository) Save(_ context.Context, purpose domain.CodePurpose, email, code string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	attempts := 0
	if e, ok := r.codes[codeKey(purpose, email)]; ok && now.Before(e.expiresAt) {
		if e.attempts >= maxCodeAttempts {
			return repository.ErrCodeLocked
		}
		attempts = e.attempts
	}
	r.codes[codeKey(purpose, email)] = &codeEntry{code: code, expiresAt: now.Add(ttl), attempts: attempts}
	return nil
}

// Consume reports whether code matches and has not expired, deleting it on success.
func (r *CodeRepository) Consume(_ context.Context, purpose domain.CodePurpose, email, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := codeKey(purpose, email)
	e, ok := r.codes[key]
	if !ok {
		return false, nil
	}
	if !r.now().Before(e.expiresAt) {
		delete(r.codes, key)
		return false, nil
	}
	if e.attempts >= maxCodeAttempts {
		return false, nil
	}
	if e.code == code {
		delete(r.codes, key)
		return true, nil
	}

	e.attempts++
	if e.attempts >= maxCodeAttempts {
		e.code = ""
	}
	return false, nil
}
