package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
	"github.com/PaulSamPS/e-commerce-server/pkg/validator"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

const defaultCodeTTL = time.Hour

// AccountEvents publishes account events. Publishing failures are logged and
// never fail the calling operation.
type AccountEvents interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishVerificationCode(ctx context.Context, purpose domain.CodePurpose, email, code string, ttl time.Duration) error
}

// AccountService implements registration, activation, login and password
// reset on top of SessionService.
type AccountService struct {
	users    repository.UserRepository
	codes    repository.CodeRepository
	sessions *SessionService
	events   AccountEvents
	logger   *slog.Logger
	codeTTL  time.Duration
	hashCost int
}

// NewAccountService creates a new account service. events may be nil.
func NewAccountService(
	users repository.UserRepository,
	codes repository.CodeRepository,
	sessions *SessionService,
	events AccountEvents,
	logger *slog.Logger,
	codeTTL time.Duration,
) *AccountService {
	if codeTTL <= 0 {
		codeTTL = defaultCodeTTL
	}
	return &AccountService{
		users:    users,
		codes:    codes,
		sessions: sessions,
		events:   events,
		logger:   logger,
		codeTTL:  codeTTL,
		hashCost: bcryptCost,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// ResetPasswordInput holds the parameters for completing a password reset.
type ResetPasswordInput struct {
	Email       string
	Code        string
	NewPassword string
}

// Register creates an inactive account and hands an activation code to the
// event bus. The account is removed again if the code cannot be stored.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.Username == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	if err := s.checkExisting(ctx, email, input.Username); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     input.Username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         domain.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendCode(ctx, domain.CodePurposeActivation, email); err != nil {
		if errors.Is(err, repository.ErrCodeLocked) {
			err = apperrors.TooManyRequests("too many wrong codes, try again later")
		}
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "failed to roll back user after code failure",
				slog.String("user_id", user.ID),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, fmt.Errorf("send activation code: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishUserRegistered(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.registered event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Activate marks the account of email as activated when code matches. An
// unknown email gets the same answer as a wrong code.
func (s *AccountService) Activate(ctx context.Context, email, code string) (*domain.User, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errInvalidCode()
		}
		return nil, fmt.Errorf("get user for activation: %w", err)
	}
	if user.Activated {
		return nil, apperrors.Conflict("account is already activated")
	}

	if err := s.consumeCode(ctx, domain.CodePurposeActivation, email, code); err != nil {
		return nil, err
	}

	user.Activated = true
	user.UpdatedAt = time.Now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("activate user: %w", err)
	}

	s.logger.InfoContext(ctx, "user activated", slog.String("user_id", user.ID))
	return user, nil
}

// Login checks the credentials of an activated account and issues a new
// session, replacing any previous one.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.users.GetByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthorized("account not found or not activated")
		}
		return nil, nil, fmt.Errorf("get user for login: %w", err)
	}
	if !user.Activated {
		return nil, nil, apperrors.Unauthorized("account not found or not activated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, apperrors.Unauthorized("invalid email or password")
	}

	pair, err := s.sessions.Issue(ctx, user.Principal())
	if err != nil {
		return nil, nil, fmt.Errorf("issue session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))
	return user, pair, nil
}

// Logout revokes the user's session.
func (s *AccountService) Logout(ctx context.Context, userID string) error {
	return s.sessions.Revoke(ctx, userID, RevokeReasonLogout)
}

// SendResetCode hands a password reset code for email to the event bus.
// Unknown addresses succeed silently.
func (s *AccountService) SendResetCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}

	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("get user for password reset: %w", err)
	}

	if err := s.sendCode(ctx, domain.CodePurposePasswordReset, email); err != nil {
		// Answer like an unknown email so a lockout does not reveal the account.
		if errors.Is(err, repository.ErrCodeLocked) {
			s.logger.WarnContext(ctx, "password reset code locked after too many attempts")
			return nil
		}
		return fmt.Errorf("send reset code: %w", err)
	}
	return nil
}

// ResetPassword sets a new password when the reset code matches and revokes
// the user's session.
func (s *AccountService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	email := normalizeEmail(input.Email)
	if err := validatePassword(input.NewPassword); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return errInvalidCode()
		}
		return fmt.Errorf("get user for password reset: %w", err)
	}

	if err := s.consumeCode(ctx, domain.CodePurposePasswordReset, email, input.Code); err != nil {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hashedPassword)
	user.UpdatedAt = time.Now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	if err := s.sessions.Revoke(ctx, user.ID, RevokeReasonPasswordReset); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke session after password reset",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("user_id", user.ID))
	return nil
}

// Profile returns the user with the given id.
func (s *AccountService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

func (s *AccountService) checkExisting(ctx context.Context, email, username string) error {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return apperrors.AlreadyExists("user", "email", email)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check email: %w", err)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return apperrors.AlreadyExists("user", "username", username)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check username: %w", err)
	}
	return nil
}

func (s *AccountService) sendCode(ctx context.Context, purpose domain.CodePurpose, email string) error {
	code, err := generateCode(domain.VerificationCodeLength)
	if err != nil {
		return err
	}
	if err := s.codes.Save(ctx, purpose, email, code, s.codeTTL); err != nil {
		return fmt.Errorf("save code: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishVerificationCode(ctx, purpose, email, code, s.codeTTL); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.verification_code event",
				slog.String("purpose", string(purpose)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *AccountService) consumeCode(ctx context.Context, purpose domain.CodePurpose, email, code string) error {
	ok, err := s.codes.Consume(ctx, purpose, email, code)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		return errInvalidCode()
	}
	return nil
}

func errInvalidCode() error {
	return apperrors.InvalidInput("invalid or expired code")
}

// generateCode returns n random decimal digits.
func generateCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if !validator.StrongPassword(password) {
		return apperrors.InvalidInput(fmt.Sprintf(
			"password must be at least %d characters and contain an upper-case letter, a lower-case letter and a digit",
			validator.MinPasswordLength))
	}
	return nil
}
