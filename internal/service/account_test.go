package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
	"github.com/PaulSamPS/e-commerce-server/internal/repository/memory"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

const testPassword = "Password123"

type accountFixture struct {
	svc      *AccountService
	users    *memory.UserRepository
	sessions *sessionFixture
	events   *fakeEvents
}

func newAccountFixture(t *testing.T, codes repository.CodeRepository) *accountFixture {
	t.Helper()
	if codes == nil {
		codes = memory.NewCodeRepository()
	}
	users := memory.NewUserRepository()
	sessions := newSessionFixture(t, nil, SessionConfig{})
	events := &fakeEvents{}

	svc := NewAccountService(users, codes, sessions.svc, events, discardLogger(), time.Hour)
	svc.hashCost = bcrypt.MinCost
	return &accountFixture{svc: svc, users: users, sessions: sessions, events: events}
}

func (f *accountFixture) registerActive(t *testing.T) *domain.User {
	t.Helper()
	ctx := context.Background()
	user, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, "alice@example.com", f.events.code(domain.CodePurposeActivation, "alice@example.com"))
	require.NoError(t, err)
	return user
}

func requireAppCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}

func TestAccountService_Register(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: " Alice@Example.com ", Password: testPassword})
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.Activated)
	assert.Equal(t, domain.RoleCustomer, user.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(testPassword)))

	code := f.events.code(domain.CodePurposeActivation, "alice@example.com")
	assert.Len(t, code, domain.VerificationCodeLength)
	assert.Equal(t, []string{"code", "registered"}, f.events.kinds())
}

func TestAccountService_RegisterRejects(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input RegisterInput
		code  string
	}{
		{"duplicate email", RegisterInput{Username: "bob", Email: "ALICE@example.com", Password: testPassword}, "ALREADY_EXISTS"},
		{"duplicate username", RegisterInput{Username: "alice", Email: "bob@example.com", Password: testPassword}, "ALREADY_EXISTS"},
		{"missing email", RegisterInput{Username: "bob", Password: testPassword}, "INVALID_INPUT"},
		{"missing username", RegisterInput{Email: "bob@example.com", Password: testPassword}, "INVALID_INPUT"},
		{"short password", RegisterInput{Username: "bob", Email: "bob@example.com", Password: "Pa1"}, "INVALID_INPUT"},
		{"weak password", RegisterInput{Username: "bob", Email: "bob@example.com", Password: "password123"}, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.input)
			requireAppCode(t, err, tt.code)
		})
	}
}

type failingCodes struct {
	repository.CodeRepository
}

func (failingCodes) Save(context.Context, domain.CodePurpose, string, string, time.Duration) error {
	return errors.New("redis unavailable")
}

func TestAccountService_RegisterRollsBackOnCodeFailure(t *testing.T) {
	f := newAccountFixture(t, failingCodes{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.Error(t, err)

	_, err = f.users.GetByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, f.events.kinds())
}

func TestAccountService_Activate(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)
	code := f.events.code(domain.CodePurposeActivation, "alice@example.com")

	_, err = f.svc.Activate(ctx, "alice@example.com", wrongCode(code))
	requireAppCode(t, err, "INVALID_INPUT")

	user, err := f.svc.Activate(ctx, "alice@example.com", code)
	require.NoError(t, err)
	assert.True(t, user.Activated)

	_, err = f.svc.Activate(ctx, "alice@example.com", code)
	requireAppCode(t, err, "CONFLICT")

	_, err = f.svc.Activate(ctx, "nobody@example.com", code)
	requireAppCode(t, err, "INVALID_INPUT")
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAccountService_RegisterWhileCodeLocked(t *testing.T) {
	codes := memory.NewCodeRepository()
	ctx := context.Background()
	require.NoError(t, codes.Save(ctx, domain.CodePurposeActivation, "alice@example.com", "123456", time.Hour))
	for i := 0; i < 5; i++ {
		ok, err := codes.Consume(ctx, domain.CodePurposeActivation, "alice@example.com", "000000")
		require.NoError(t, err)
		require.False(t, ok)
	}
	f := newAccountFixture(t, codes)

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	requireAppCode(t, err, "RATE_LIMITED")

	_, err = f.users.GetByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAccountService_Login(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)

	_, _, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	requireAppCode(t, err, "UNAUTHORIZED")

	_, err = f.svc.Activate(ctx, "alice@example.com", f.events.code(domain.CodePurposeActivation, "alice@example.com"))
	require.NoError(t, err)

	_, _, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "Wrong12345"})
	requireAppCode(t, err, "UNAUTHORIZED")

	_, _, err = f.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: testPassword})
	requireAppCode(t, err, "UNAUTHORIZED")

	_, _, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com"})
	requireAppCode(t, err, "INVALID_INPUT")

	user, pair, err := f.svc.Login(ctx, LoginInput{Email: "Alice@example.com", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	rec, err := f.sessions.svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, rec.MatchesRefresh(pair.RefreshToken))

	verified, err := f.sessions.signer.Verify(pair.AccessToken, auth.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.Principal(), verified.Principal())
}

func TestAccountService_Logout(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()
	f.registerActive(t)

	user, pair, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, user.ID))

	_, err = f.sessions.svc.Rotate(ctx, pair.RefreshToken)
	assert.Error(t, err)
}

func TestAccountService_SendResetCodeUnknownEmail(t *testing.T) {
	f := newAccountFixture(t, nil)

	require.NoError(t, f.svc.SendResetCode(context.Background(), "nobody@example.com"))
	assert.Empty(t, f.events.kinds())

	requireAppCode(t, f.svc.SendResetCode(context.Background(), " "), "INVALID_INPUT")
}

func TestAccountService_ResetPassword(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()
	f.registerActive(t)

	user, pair, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, f.svc.SendResetCode(ctx, "alice@example.com"))
	code := f.events.code(domain.CodePurposePasswordReset, "alice@example.com")
	require.Len(t, code, domain.VerificationCodeLength)

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: wrongCode(code), NewPassword: "NewPassword1"})
	requireAppCode(t, err, "INVALID_INPUT")

	// An activation code does not reset a password.
	if activation := f.events.code(domain.CodePurposeActivation, "alice@example.com"); activation != code {
		err = f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: activation, NewPassword: "NewPassword1"})
		requireAppCode(t, err, "INVALID_INPUT")
	}

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: code, NewPassword: "weak"})
	requireAppCode(t, err, "INVALID_INPUT")

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: code, NewPassword: "NewPassword1"}))

	// The code is single use.
	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: code, NewPassword: "OtherPassword1"})
	requireAppCode(t, err, "INVALID_INPUT")

	_, err = f.sessions.svc.Get(ctx, user.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.sessions.svc.Rotate(ctx, pair.RefreshToken)
	assert.Error(t, err)

	_, _, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: testPassword})
	requireAppCode(t, err, "UNAUTHORIZED")
	_, _, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "NewPassword1"})
	require.NoError(t, err)
}

func TestAccountService_ResetCodeAttemptsSurviveResend(t *testing.T) {
	f := newAccountFixture(t, nil)
	ctx := context.Background()
	f.registerActive(t)

	guess := func(code string, times int) {
		t.Helper()
		for i := 0; i < times; i++ {
			err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: wrongCode(code), NewPassword: "NewPassword1"})
			requireAppCode(t, err, "INVALID_INPUT")
		}
	}

	require.NoError(t, f.svc.SendResetCode(ctx, "alice@example.com"))
	guess(f.events.code(domain.CodePurposePasswordReset, "alice@example.com"), 3)

	require.NoError(t, f.svc.SendResetCode(ctx, "alice@example.com"))
	code := f.events.code(domain.CodePurposePasswordReset, "alice@example.com")
	guess(code, 2)

	// Locked: the right code no longer works and no new code goes out.
	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Email: "alice@example.com", Code: code, NewPassword: "NewPassword1"})
	requireAppCode(t, err, "INVALID_INPUT")

	sent := len(f.events.kinds())
	require.NoError(t, f.svc.SendResetCode(ctx, "alice@example.com"))
	assert.Len(t, f.events.kinds(), sent)
}

func TestAccountService_Profile(t *testing.T) {
	f := newAccountFixture(t, nil)
	user := f.registerActive(t)

	got, err := f.svc.Profile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	_, err = f.svc.Profile(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode(domain.VerificationCodeLength)
		require.NoError(t, err)
		require.Len(t, code, domain.VerificationCodeLength)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "non-digit in %q", code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
