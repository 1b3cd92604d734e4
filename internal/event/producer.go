package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/pkg/breaker"
	pkgkafka "github.com/PaulSamPS/e-commerce-server/pkg/kafka"
	"github.com/PaulSamPS/e-commerce-server/pkg/logger"
)

// Kafka topics for user and session events.
var (
	TopicUserRegistered       = pkgkafka.Topic("user", "registered")
	TopicVerificationCode     = pkgkafka.Topic("user", "verification_code")
	TopicSessionRotated       = pkgkafka.Topic("session", "rotated")
	TopicSessionReuseDetected = pkgkafka.Topic("session", "reuse_detected")
	TopicSessionRevoked       = pkgkafka.Topic("session", "revoked")
)

// Aggregate types.
const (
	AggregateTypeUser    = "user"
	AggregateTypeSession = "session"
)

// SourceAuthService identifies events originating from this server.
const SourceAuthService = "auth-service"

const defaultPublishTimeout = 2 * time.Second

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// VerificationCodeData asks the mailer to deliver a one-time code.
type VerificationCodeData struct {
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// SessionData is the payload of session.* events.
type SessionData struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// Publisher is the subset of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events through a circuit breaker. Publishing
// is detached from the request context and bounded by its own timeout.
type Producer struct {
	publisher Publisher
	breaker   *breaker.Breaker[struct{}]
	timeout   time.Duration
	logger    *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(publisher Publisher, cb *breaker.Breaker[struct{}], logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		breaker:   cb,
		timeout:   defaultPublishTimeout,
		logger:    logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{ID: user.ID, Username: user.Username, Email: user.Email}
	return p.publish(ctx, TopicUserRegistered, user.ID, AggregateTypeUser, data)
}

// PublishVerificationCode publishes a code for out-of-band delivery.
func (p *Producer) PublishVerificationCode(ctx context.Context, purpose domain.CodePurpose, email, code string, ttl time.Duration) error {
	data := VerificationCodeData{
		Email:     email,
		Purpose:   string(purpose),
		Code:      code,
		ExpiresIn: int64(ttl.Seconds()),
	}
	return p.publish(ctx, TopicVerificationCode, email, AggregateTypeUser, data)
}

// PublishSessionRotated publishes a session.rotated event.
func (p *Producer) PublishSessionRotated(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicSessionRotated, userID, AggregateTypeSession, SessionData{UserID: userID})
}

// PublishReuseDetected publishes a session.reuse_detected event.
func (p *Producer) PublishReuseDetected(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicSessionReuseDetected, userID, AggregateTypeSession, SessionData{UserID: userID})
}

// PublishSessionRevoked publishes a session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, userID, reason string) error {
	return p.publish(ctx, TopicSessionRevoked, userID, AggregateTypeSession, SessionData{UserID: userID, Reason: reason})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(ctx, topic, evt)
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
