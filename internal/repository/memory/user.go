package memory

import (
	"context"
	"sync"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

// UserRepository implements repository.UserRepository with a map. Email and
// username are unique, like the users table constraints.
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]domain.User)}
}

func (r *UserRepository) conflict(u *domain.User) error {
	for id, existing := range r.users {
		if id == u.ID {
			continue
		}
		if existing.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		if existing.Username == u.Username {
			return apperrors.AlreadyExists("user", "username", u.Username)
		}
	}
	return nil
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	if err := domain.CheckRole(u.Role); err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; ok {
		return apperrors.AlreadyExists("user", "id", u.ID)
	}
	if err := r.conflict(u); err != nil {
		return err
	}
	r.users[u.ID] = *u
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id })
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email })
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username })
}

// Update replaces a stored user.
func (r *UserRepository) Update(_ context.Context, u *domain.User) error {
	if err := domain.CheckRole(u.Role); err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; !ok {
		return apperrors.NotFound("user", u.ID)
	}
	if err := r.conflict(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	r.users[u.ID] = *u
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return apperrors.NotFound("user", id)
	}
	delete(r.users, id)
	return nil
}

func (r *UserRepository) find(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(&u) {
			out := u
			return &out, nil
		}
	}
	return nil, apperrors.ErrNotFound
}
