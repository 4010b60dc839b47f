package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// spendScript refills the bucket stored at KEYS[1] for the elapsed time and
// spends ARGV[3] tokens when enough are available.
// Returns {allowed, remaining, retry_after_ms}.
var spendScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - at) * rate)

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket shares buckets across API replicas.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	bucket    bucketConfig
	perMS     float64
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	bucket, err := newBucketConfig(capacity, window)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisTokenBucket{
		client:    client,
		bucket:    bucket,
		perMS:     float64(capacity) / float64(max(window.Milliseconds(), 1)),
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	return l.keyPrefix + ":" + normalizeSubject(subject)
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	vals, err := spendScript.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.bucket.capacity,
		l.perMS,
		l.bucket.cost(cost),
		l.now().UnixMilli(),
		(2 * l.bucket.window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("spend tokens: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("spend tokens: unexpected reply length %d", len(vals))
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}
