package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

// Rotation outcomes reported on session_rotations_total.
const (
	rotationRotated  = "rotated"
	rotationInvalid  = "invalid"
	rotationReused   = "reused"
	rotationConflict = "conflict"
	rotationError    = "error"
)

var (
	sessionRotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_rotations_total",
			Help: "Refresh token rotations by result.",
		},
		[]string{"result"},
	)

	refreshReuseDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_refresh_reuse_detected_total",
			Help: "Verified refresh tokens presented after being superseded.",
		},
	)
)

// Reasons recorded on session.revoked events.
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonReuse         = "refresh_reuse"
	RevokeReasonPasswordReset = "password_reset"
	RevokeReasonAdmin         = "admin"
)

const defaultRotationTimeout = 5 * time.Second

// SessionEvents publishes session lifecycle events. Publishing failures are
// logged and never fail the calling operation.
type SessionEvents interface {
	PublishSessionRotated(ctx context.Context, userID string) error
	PublishReuseDetected(ctx context.Context, userID string) error
	PublishSessionRevoked(ctx context.Context, userID, reason string) error
}

// SessionConfig holds SessionService settings.
type SessionConfig struct {
	// RevokeOnReuse clears the session when a superseded refresh token is presented.
	RevokeOnReuse bool

	// RotationTimeout bounds the store round trips of one rotation. The bound
	// applies even after the requesting client has gone away.
	RotationTimeout time.Duration
}

// Rotated is the result of a successful rotation.
type Rotated struct {
	Pair *domain.TokenPair

	// Access is the verified access token of Pair.
	Access auth.Verified
}

// SessionService issues, rotates and revokes the single session of each user.
type SessionService struct {
	signer   *auth.Signer
	sessions repository.SessionRepository
	events   SessionEvents
	logger   *slog.Logger
	cfg      SessionConfig
	flights  singleflight.Group
	now      func() time.Time
}

// NewSessionService creates a new session service. events may be nil.
func NewSessionService(
	signer *auth.Signer,
	sessions repository.SessionRepository,
	events SessionEvents,
	logger *slog.Logger,
	cfg SessionConfig,
) *SessionService {
	if cfg.RotationTimeout <= 0 {
		cfg.RotationTimeout = defaultRotationTimeout
	}
	return &SessionService{
		signer:   signer,
		sessions: sessions,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs a new pair for p and stores it as the user's session,
// replacing any previous one.
func (s *SessionService) Issue(ctx context.Context, p domain.Principal) (*domain.TokenPair, error) {
	pair, err := s.signer.IssuePair(p)
	if err != nil {
		return nil, fmt.Errorf("issue token pair: %w", err)
	}

	if err := s.sessions.Upsert(ctx, domain.NewSessionRecord(p.ID, pair, s.now())); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.logger.InfoContext(ctx, "session issued", slog.String("user_id", p.ID))
	return pair, nil
}

// Rotate exchanges refreshToken for a new pair. The token must verify as a
// refresh token and equal the one stored for its user. Concurrent calls with
// the same token in this process share one rotation and receive the same pair.
//
// Every failure wraps auth.ErrInvalidRefresh. auth.ErrRefreshReused marks a
// superseded token and auth.ErrRotationConflict a rotation lost to another
// process.
func (s *SessionService) Rotate(ctx context.Context, refreshToken string) (*Rotated, error) {
	verified, err := s.signer.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		sessionRotationsTotal.WithLabelValues(rotationInvalid).Inc()
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidRefresh, err)
	}

	userID := verified.Principal().ID
	key := userID + ":" + domain.HashToken(refreshToken)

	ch := s.flights.DoChan(key, func() (any, error) {
		// Detached so an aborted request cannot interrupt a started write.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RotationTimeout)
		defer cancel()
		return s.rotate(flightCtx, verified, refreshToken)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Rotated), nil
	}
}

func (s *SessionService) rotate(ctx context.Context, verified auth.Verified, refreshToken string) (*Rotated, error) {
	p := verified.Principal()
	log := s.logger.With(slog.String("user_id", p.ID))

	current, err := s.sessions.GetByUser(ctx, p.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			sessionRotationsTotal.WithLabelValues(rotationInvalid).Inc()
			return nil, fmt.Errorf("%w: no session", auth.ErrInvalidRefresh)
		}
		sessionRotationsTotal.WithLabelValues(rotationError).Inc()
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !current.MatchesRefresh(refreshToken) {
		s.handleReuse(ctx, log, p.ID)
		return nil, auth.ErrRefreshReused
	}

	pair, err := s.signer.IssuePair(p)
	if err != nil {
		sessionRotationsTotal.WithLabelValues(rotationError).Inc()
		return nil, fmt.Errorf("issue token pair: %w", err)
	}

	next := domain.NewSessionRecord(p.ID, pair, s.now())
	next.CreatedAt = current.CreatedAt

	swapped, err := s.sessions.CompareAndSwap(ctx, current.RefreshTokenHash, next)
	if err != nil {
		sessionRotationsTotal.WithLabelValues(rotationError).Inc()
		return nil, fmt.Errorf("swap session: %w", err)
	}
	if !swapped {
		sessionRotationsTotal.WithLabelValues(rotationConflict).Inc()
		log.WarnContext(ctx, "refresh rotation lost to a concurrent rotation")
		return nil, auth.ErrRotationConflict
	}

	access, err := s.signer.Verify(pair.AccessToken, auth.KindAccess)
	if err != nil {
		sessionRotationsTotal.WithLabelValues(rotationError).Inc()
		return nil, fmt.Errorf("verify rotated access token: %w", err)
	}

	sessionRotationsTotal.WithLabelValues(rotationRotated).Inc()
	log.InfoContext(ctx, "session rotated")
	s.publish(ctx, log, "session.rotated", func(ctx context.Context) error {
		return s.events.PublishSessionRotated(ctx, p.ID)
	})

	return &Rotated{Pair: pair, Access: access}, nil
}

func (s *SessionService) handleReuse(ctx context.Context, log *slog.Logger, userID string) {
	sessionRotationsTotal.WithLabelValues(rotationReused).Inc()
	refreshReuseDetectedTotal.Inc()
	log.WarnContext(ctx, "superseded refresh token presented",
		slog.Bool("revoke", s.cfg.RevokeOnReuse),
	)

	s.publish(ctx, log, "session.reuse_detected", func(ctx context.Context) error {
		return s.events.PublishReuseDetected(ctx, userID)
	})

	if s.cfg.RevokeOnReuse {
		if err := s.Revoke(ctx, userID, RevokeReasonReuse); err != nil {
			log.ErrorContext(ctx, "failed to revoke session after refresh reuse",
				slog.String("error", err.Error()),
			)
		}
	}
}

// Revoke clears the user's session. Revoking a missing session is not an error.
func (s *SessionService) Revoke(ctx context.Context, userID, reason string) error {
	if err := s.sessions.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}

	log := s.logger.With(slog.String("user_id", userID))
	log.InfoContext(ctx, "session revoked", slog.String("reason", reason))
	s.publish(ctx, log, "session.revoked", func(ctx context.Context) error {
		return s.events.PublishSessionRevoked(ctx, userID, reason)
	})
	return nil
}

// Get returns the stored session of a user.
func (s *SessionService) Get(ctx context.Context, userID string) (*domain.SessionRecord, error) {
	rec, err := s.sessions.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("session", userID)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

func (s *SessionService) publish(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error) {
	if s.events == nil {
		return
	}
	if err := fn(ctx); err != nil {
		log.ErrorContext(ctx, "failed to publish "+name+" event",
			slog.String("error", err.Error()),
		)
	}
}
