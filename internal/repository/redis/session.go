package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/pkg/database"
	apperrors "github.com/PaulSamPS/e-commerce-server/pkg/errors"
)

const (
	defaultSessionPrefix = "session"

	fieldAccessHash  = "access_hash"
	fieldRefreshHash = "refresh_hash"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
)

// swapSessionLua replaces the session hash only while its refresh digest
// still equals the expected one.
// KEYS[1] = session key
// ARGV[1] = expected refresh hash
// ARGV[2] = new access hash
// ARGV[3] = new refresh hash
// ARGV[4] = updated_at (unix nanos)
//
// Returns 1 when swapped, 0 otherwise.
var swapSessionLua = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'refresh_hash')
if not current or current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'access_hash', ARGV[2], 'refresh_hash', ARGV[3], 'updated_at', ARGV[4])
return 1
`)

// SessionRepository implements repository.SessionRepository on Redis hashes,
// one key per user.
type SessionRepository struct {
	client goredis.UniversalClient
	prefix string
}

// NewSessionRepository creates a Redis-backed session repository. An empty
// prefix defaults to "session".
func NewSessionRepository(client goredis.UniversalClient, prefix string) *SessionRepository {
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionRepository{client: client, prefix: prefix}
}

func (r *SessionRepository) key(userID string) string {
	return r.prefix + ":" + userID
}

// GetByUser returns the user's session or apperrors.ErrNotFound.
func (r *SessionRepository) GetByUser(ctx context.Context, userID string) (_ *domain.SessionRecord, err error) {
	ctx, end := database.TraceCommand(ctx, "GetSession", "HGETALL")
	defer func() { end(err) }()

	vals, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(vals) == 0 || vals[fieldRefreshHash] == "" {
		return nil, apperrors.ErrNotFound
	}

	createdAt, err := parseNanos(vals[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode session created_at: %w", err)
	}
	updatedAt, err := parseNanos(vals[fieldUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode session updated_at: %w", err)
	}

	return &domain.SessionRecord{
		UserID:           userID,
		AccessTokenHash:  vals[fieldAccessHash],
		RefreshTokenHash: vals[fieldRefreshHash],
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

// Upsert writes the session inside MULTI/EXEC. created_at survives overwrites.
func (r *SessionRepository) Upsert(ctx context.Context, rec *domain.SessionRecord) (err error) {
	ctx, end := database.TraceCommand(ctx, "UpsertSession", "MULTI HSETNX HSET EXEC")
	defer func() { end(err) }()

	key := r.key(rec.UserID)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, formatNanos(rec.CreatedAt))
		pipe.HSet(ctx, key,
			fieldAccessHash, rec.AccessTokenHash,
			fieldRefreshHash, rec.RefreshTokenHash,
			fieldUpdatedAt, formatNanos(rec.UpdatedAt),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// CompareAndSwap runs swapSessionLua; Redis executes scripts atomically.
func (r *SessionRepository) CompareAndSwap(ctx context.Context, expectedRefreshHash string, rec *domain.SessionRecord) (_ bool, err error) {
	ctx, end := database.TraceCommand(ctx, "SwapSession", "EVALSHA swap_session")
	defer func() { end(err) }()

	res, err := swapSessionLua.Run(ctx, r.client, []string{r.key(rec.UserID)},
		expectedRefreshHash,
		rec.AccessTokenHash,
		rec.RefreshTokenHash,
		formatNanos(rec.UpdatedAt),
	).Int()
	if err != nil {
		return false, fmt.Errorf("swap session: %w", err)
	}
	return res == 1, nil
}

// Invalidate deletes the user's session key.
func (r *SessionRepository) Invalidate(ctx context.Context, userID string) (err error) {
	ctx, end := database.TraceCommand(ctx, "InvalidateSession", "DEL")
	defer func() { end(err) }()

	if err = r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

func formatNanos(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNanos(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
