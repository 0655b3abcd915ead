package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"receiv3/internal/ratelimit/models"
)

// KEYS[1]=window zset ARGV: now_ms, window_ms, limit, member
// Returns {allowed, count, oldest_ms}.
var allowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", tonumber(ARGV[1]) - tonumber(ARGV[2]))
local count = redis.call("ZCARD", KEYS[1])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if count >= tonumber(ARGV[3]) then
  return {0, count, oldest[2]}
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return {1, count + 1, oldest[2] or ARGV[1]}
`)

// RedisBucketStore shares sliding windows across replicas. Each window is a
// sorted set of request timestamps in milliseconds.
type RedisBucketStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisBucketStore(client redis.Cmdable, prefix string) *RedisBucketStore {
	return &RedisBucketStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisBucketStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	raw, err := allowScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit script: unexpected reply %v", raw)
	}
	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	oldestMs, err := parseScore(raw[2])
	if err != nil {
		return nil, err
	}
	resetAt := time.UnixMilli(oldestMs).Add(window)

	if allowed == 0 {
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		ResetAt:   resetAt,
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func parseScore(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("rate limit score %q: %w", x, err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("rate limit score has type %T", v)
	}
}
