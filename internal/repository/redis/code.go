package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PaulSamPS/e-commerce-server/internal/domain"
	"github.com/PaulSamPS/e-commerce-server/internal/repository"
	"github.com/PaulSamPS/e-commerce-server/pkg/database"
)

const (
	defaultCodePrefix  = "code"
	defaultMaxAttempts = 5
)

// saveCodeLua stores a code unless the attempt limit is reached. The attempt
// counter survives a re-send.
// KEYS[1] = code key
// ARGV[1] = code
// ARGV[2] = ttl in milliseconds
// ARGV[3] = max attempts
//
// Returns 1 when the code was stored, 0 when locked.
var saveCodeLua = goredis.NewScript(`
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0')
if attempts >= tonumber(ARGV[3]) then
  return 0
end
redis.call('HSET', KEYS[1], 'code', ARGV[1], 'attempts', attempts)
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// consumeCodeLua checks a verification code and deletes it on success.
// Wrong guesses increment the attempt counter. At the limit the code is
// dropped but the counter is kept until the key expires.
// KEYS[1] = code key
// ARGV[1] = presented code
// ARGV[2] = max attempts
//
// Returns 1 when the code matched, 0 otherwise.
var consumeCodeLua = goredis.NewScript(`
local max = tonumber(ARGV[2])
if tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0') >= max then
  return 0
end
local stored = redis.call('HGET', KEYS[1], 'code')
if not stored then
  return 0
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= max then
  redis.call('HDEL', KEYS[1], 'code')
end
return 0
`)

// CodeRepository implements repository.CodeRepository on Redis. Expiry is
// enforced by the key TTL.
type CodeRepository struct {
	client      goredis.UniversalClient
	prefix      string
	maxAttempts int
}

// NewCodeRepository creates a Redis-backed verification code repository.
func NewCodeRepository(client goredis.UniversalClient, prefix string) *CodeRepository {
	if prefix == "" {
		prefix = defaultCodePrefix
	}
	return &CodeRepository{client: client, prefix: prefix, maxAttempts: defaultMaxAttempts}
}

func (r *CodeRepository) key(purpose domain.CodePurpose, email string) string {
	return r.prefix + ":" + string(purpose) + ":" + email
}

// Save stores code, replacing any earlier code for the same purpose and email.
func (r *CodeRepository) Save(ctx context.Context, purpose domain.CodePurpose, email, code string, ttl time.Duration) (err error) {
	ctx, end := database.TraceCommand(ctx, "SaveCode", "EVALSHA save_code")
	defer func() { end(err) }()

	res, err := saveCodeLua.Run(ctx, r.client, []string{r.key(purpose, email)},
		code, strconv.FormatInt(ttl.Milliseconds(), 10), strconv.Itoa(r.maxAttempts),
	).Int()
	if err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	if res == 0 {
		return repository.ErrCodeLocked
	}
	return nil
}

// Consume reports whether code matches the stored one and deletes it if so.
func (r *CodeRepository) Consume(ctx context.Context, purpose domain.CodePurpose, email, code string) (_ bool, err error) {
	ctx, end := database.TraceCommand(ctx, "ConsumeCode", "EVALSHA consume_code")
	defer func() { end(err) }()

	res, err := consumeCodeLua.Run(ctx, r.client, []string{r.key(purpose, email)},
		code, strconv.Itoa(r.maxAttempts),
	).Int()
	if err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	return res == 1, nil
}
