package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
	"github.com/PaulSamPS/e-commerce-server/internal/repository/memory"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestSigner(t *testing.T) (*auth.Signer, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := auth.NewSigner(auth.Secrets{
		AccessSecret:  "access-secret-0123456789abcdef0123456789",
		RefreshSecret: "refresh-secret-0123456789abcdef012345678",
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
	}, auth.WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessionEvent struct {
	kind   string
	userID string
	reason string
}

type fakeEvents struct {
	mu     sync.Mutex
	err    error
	events []sessionEvent
	codes  map[string]string
}

func (f *fakeEvents) record(e sessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeEvents) PublishSessionRotated(_ context.Context, userID string) error {
	return f.record(sessionEvent{kind: "rotated", userID: userID})
}

func (f *fakeEvents) PublishReuseDetected(_ context.Context, userID string) error {
	return f.record(sessionEvent{kind: "reuse_detected", userID: userID})
}

func (f *fakeEvents) PublishSessionRevoked(_ context.Context, userID, reason string) error {
	return f.record(sessionEvent{kind: "revoked", userID: userID, reason: reason})
}

func (f *fakeEvents) PublishUserRegistered(_ context.Context, user *domain.User) error {
	return f.record(sessionEvent{kind: "registered", userID: user.ID})
}

func (f *fakeEvents) PublishVerificationCode(_ context.Context, purpose domain.CodePurpose, email, code string, _ time.Duration) error {
	f.mu.Lock()
	if f.codes == nil {
		f.codes = make(map[string]string)
	}
	f.codes[string(purpose)+":"+email] = code
	f.mu.Unlock()
	return f.record(sessionEvent{kind: "code", reason: string(purpose)})
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.kind)
	}
	return out
}

func (f *fakeEvents) code(purpose domain.CodePurpose, email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[string(purpose)+":"+email]
}

func alice() domain.Principal {
	return domain.Principal{ID: "user-1", Username: "alice", Email: "alice@example.com"}
}

type sessionFixture struct {
	svc    *SessionService
	repo   repository.SessionRepository
	signer *auth.Signer
	clock  *testClock
	events *fakeEvents
}

func newSessionFixture(t *testing.T, repo repository.SessionRepository, cfg SessionConfig) *sessionFixture {
	t.Helper()
	if repo == nil {
		repo = memory.NewSessionRepository()
	}
	signer, clock := newTestSigner(t)
	events := &fakeEvents{}
	svc := NewSessionService(signer, repo, events, discardLogger(), cfg)
	svc.now = clock.Now
	return &sessionFixture{svc: svc, repo: repo, signer: signer, clock: clock, events: events}
}

func TestSessionService_Issue(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	rec, err := f.svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, rec.MatchesRefresh(pair.RefreshToken))
	assert.Equal(t, domain.HashToken(pair.AccessToken), rec.AccessTokenHash)

	// A second login replaces the session.
	second, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)
	rec, err = f.svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, rec.MatchesRefresh(second.RefreshToken))
	assert.False(t, rec.MatchesRefresh(pair.RefreshToken))
}

func TestSessionService_RotateOnce(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)

	reusedBefore := testutil.ToFloat64(refreshReuseDetectedTotal)

	rotated, err := f.svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.Pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, rotated.Pair.AccessToken)
	assert.Equal(t, alice(), rotated.Access.Principal())
	assert.Equal(t, auth.KindAccess, rotated.Access.Kind())

	rec, err := f.svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, rec.MatchesRefresh(rotated.Pair.RefreshToken))

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRefreshReused)
	assert.ErrorIs(t, err, auth.ErrInvalidRefresh)
	assert.Equal(t, reusedBefore+1, testutil.ToFloat64(refreshReuseDetectedTotal))

	// Without revoke-on-reuse the current session stays usable.
	_, err = f.svc.Rotate(ctx, rotated.Pair.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, []string{"rotated", "reuse_detected", "rotated"}, f.events.kinds())
}

func TestSessionService_RotateRevokesOnReuse(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{RevokeOnReuse: true})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)
	rotated, err := f.svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRefreshReused)

	_, err = f.svc.Get(ctx, "user-1")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// The legitimate holder is logged out too.
	_, err = f.svc.Rotate(ctx, rotated.Pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrInvalidRefresh)
	assert.NotErrorIs(t, err, auth.ErrRefreshReused)

	assert.Contains(t, f.events.events, sessionEvent{kind: "revoked", userID: "user-1", reason: RevokeReasonReuse})
}

func TestSessionService_RotateRejects(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token func() string
	}{
		{"access token as refresh", func() string { return pair.AccessToken }},
		{"garbage", func() string { return "not-a-token" }},
		{"empty", func() string { return "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Rotate(ctx, tt.token())
			require.ErrorIs(t, err, auth.ErrInvalidRefresh)
			assert.NotErrorIs(t, err, auth.ErrRefreshReused)
		})
	}

	t.Run("expired refresh", func(t *testing.T) {
		f.clock.Advance(31 * 24 * time.Hour)
		_, err := f.svc.Rotate(ctx, pair.RefreshToken)
		require.ErrorIs(t, err, auth.ErrInvalidRefresh)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})
}

func TestSessionService_RotateWithoutSession(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, "user-1", RevokeReasonLogout))

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrInvalidRefresh)
	assert.NotErrorIs(t, err, auth.ErrRefreshReused)
}

// The access token is 31 minutes past issue and the refresh token two hours;
// rotation renews both for the same principal.
func TestSessionService_ExpiredAccessRenewed(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	refreshPair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)
	f.clock.Advance(2*time.Hour - 31*time.Minute)
	access, err := f.signer.Sign(alice(), auth.KindAccess)
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)

	_, err = f.signer.Verify(access, auth.KindAccess)
	require.ErrorIs(t, err, auth.ErrTokenExpired)

	rotated, err := f.svc.Rotate(ctx, refreshPair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, alice(), rotated.Access.Principal())
	assert.WithinDuration(t, f.clock.Now().Add(30*time.Minute), rotated.Access.ExpiresAt(), 0)

	rec, err := f.svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, rec.MatchesRefresh(rotated.Pair.RefreshToken))
}

func TestSessionService_ConcurrentRotateInProcess(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)

	const callers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]*Rotated, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.Rotate(ctx, pair.RefreshToken)
		}(i)
	}
	close(start)
	wg.Wait()

	rec, err := f.svc.Get(ctx, "user-1")
	require.NoError(t, err)

	var winner string
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], auth.ErrInvalidRefresh)
			continue
		}
		if winner == "" {
			winner = results[i].Pair.RefreshToken
		}
		assert.Equal(t, winner, results[i].Pair.RefreshToken, "callers received different pairs")
	}
	require.NotEmpty(t, winner)
	assert.True(t, rec.MatchesRefresh(winner), "persisted pair is not the one handed out")
}

// barrierRepo makes every GetByUser wait until n callers have read the
// record, so all of them go on to attempt the swap.
type barrierRepo struct {
	repository.SessionRepository
	wg sync.WaitGroup
}

func newBarrierRepo(inner repository.SessionRepository, n int) *barrierRepo {
	r := &barrierRepo{SessionRepository: inner}
	r.wg.Add(n)
	return r
}

func (r *barrierRepo) GetByUser(ctx context.Context, userID string) (*domain.SessionRecord, error) {
	rec, err := r.SessionRepository.GetByUser(ctx, userID)
	r.wg.Done()
	r.wg.Wait()
	return rec, err
}

func TestSessionService_ConcurrentRotateAcrossProcesses(t *testing.T) {
	shared := memory.NewSessionRepository()
	ctx := context.Background()

	setup := newSessionFixture(t, shared, SessionConfig{})
	pair, err := setup.svc.Issue(ctx, alice())
	require.NoError(t, err)

	// Two service instances stand in for two processes sharing one store.
	barrier := newBarrierRepo(shared, 2)
	a := newSessionFixture(t, barrier, SessionConfig{})
	b := newSessionFixture(t, barrier, SessionConfig{})

	var (
		wg           sync.WaitGroup
		resA, resB   *Rotated
		errA, errB   error
		conflictPrev = testutil.ToFloat64(sessionRotationsTotal.WithLabelValues(rotationConflict))
	)
	wg.Add(2)
	go func() { defer wg.Done(); resA, errA = a.svc.Rotate(ctx, pair.RefreshToken) }()
	go func() { defer wg.Done(); resB, errB = b.svc.Rotate(ctx, pair.RefreshToken) }()
	wg.Wait()

	require.True(t, (errA == nil) != (errB == nil), "exactly one rotation must win: %v / %v", errA, errB)

	winner, loserErr := resA, errB
	if errA != nil {
		winner, loserErr = resB, errA
	}
	require.ErrorIs(t, loserErr, auth.ErrRotationConflict)
	assert.ErrorIs(t, loserErr, auth.ErrInvalidRefresh)
	assert.Equal(t, conflictPrev+1, testutil.ToFloat64(sessionRotationsTotal.WithLabelValues(rotationConflict)))

	rec, err := shared.GetByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, rec.MatchesRefresh(winner.Pair.RefreshToken))
}

// gatedRepo blocks CompareAndSwap until release is closed.
type gatedRepo struct {
	repository.SessionRepository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) CompareAndSwap(ctx context.Context, expected string, rec *domain.SessionRecord) (bool, error) {
	close(r.entered)
	select {
	case <-r.release:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return r.SessionRepository.CompareAndSwap(ctx, expected, rec)
}

func TestSessionService_RotateSurvivesClientAbort(t *testing.T) {
	repo := &gatedRepo{
		SessionRepository: memory.NewSessionRepository(),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	f := newSessionFixture(t, repo, SessionConfig{RotationTimeout: 5 * time.Second})

	pair, err := f.svc.Issue(context.Background(), alice())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Rotate(ctx, pair.RefreshToken)
		done <- err
	}()

	<-repo.entered
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(repo.release)
	assert.Eventually(t, func() bool {
		rec, err := repo.GetByUser(context.Background(), "user-1")
		return err == nil && !rec.MatchesRefresh(pair.RefreshToken)
	}, 2*time.Second, 10*time.Millisecond)
}

type failingRepo struct {
	repository.SessionRepository
	err error
}

func (r *failingRepo) GetByUser(context.Context, string) (*domain.SessionRecord, error) {
	return nil, r.err
}

func TestSessionService_RotateStoreError(t *testing.T) {
	inner := memory.NewSessionRepository()
	f := newSessionFixture(t, inner, SessionConfig{})
	pair, err := f.svc.Issue(context.Background(), alice())
	require.NoError(t, err)

	storeErr := errors.New("connection refused")
	broken := newSessionFixture(t, &failingRepo{SessionRepository: inner, err: storeErr}, SessionConfig{})

	_, err = broken.svc.Rotate(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, auth.ErrInvalidRefresh)
}

func TestSessionService_Revoke(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, "user-1", RevokeReasonAdmin))
	require.NoError(t, f.svc.Revoke(ctx, "user-1", RevokeReasonAdmin))

	_, err = f.svc.Get(ctx, "user-1")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestSessionService_EventFailuresIgnored(t *testing.T) {
	f := newSessionFixture(t, nil, SessionConfig{})
	f.events.err = errors.New("broker down")
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, alice())
	require.NoError(t, err)
	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, "user-1", RevokeReasonLogout))
}

func TestSessionService_NilEvents(t *testing.T) {
	signer, _ := newTestSigner(t)
	svc := NewSessionService(signer, memory.NewSessionRepository(), nil, discardLogger(), SessionConfig{})
	ctx := context.Background()

	pair, err := svc.Issue(ctx, alice())
	require.NoError(t, err)
	_, err = svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
}
