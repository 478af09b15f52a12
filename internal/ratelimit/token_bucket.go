package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
)

const defaultKeyPrefix = "imagetools:ratelimit"

// Cost is the most encoder passes a request can trigger. A size-budgeted
// lossy output runs the quality search: one encode per iteration, plus a
// fallback encode at the minimum quality when too few iterations are
// configured to reach it. Anything else encodes once.
func Cost(opts domain.Options, iterations int) int64 {
	if !opts.WantsSearch() {
		return 1
	}
	if iterations <= 0 {
		iterations = pipeline.DefaultSearchIterations
	}
	if iterations < pipeline.DefaultSearchIterations {
		return int64(iterations) + 1
	}
	return int64(iterations)
}

// Decision is the outcome of one charge. RetryAfter is set only when the
// charge was refused, and is how long until Cost tokens are available.
type Decision struct {
	Allowed    bool
	Cost       int64
	Remaining  int64
	RetryAfter time.Duration
}

// takeScript refills the bucket for the elapsed time and then withdraws
// ARGV[4] tokens if that many are present. State lives in one hash per
// subject so every API replica draws from the same budget.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rate)
end

local granted = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  granted = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {granted, math.floor(tokens), wait}
`)

// RedisTokenBucket meters encoder work per subject. Each subject holds up to
// capacity tokens, refilled evenly over window, and every request pays its
// Cost. A charge larger than capacity is clamped so that expensive requests
// are slowed down rather than refused forever.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	perMS     float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window < time.Millisecond:
		return nil, fmt.Errorf("window must be at least 1ms")
	}
	if keyPrefix = strings.TrimSpace(keyPrefix); keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		perMS:     float64(capacity) / float64(window.Milliseconds()),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

// Allow charges cost tokens to subject. Costs below one are charged as one.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = "anonymous"
	}
	cost = max(1, min(cost, l.capacity))

	out, err := takeScript.Run(ctx, l.client,
		[]string{l.keyPrefix + ":" + subject},
		l.capacity, l.perMS, l.now().UnixMilli(), cost, l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("charge %s: %w", subject, err)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("charge %s: unexpected reply %v", subject, out)
	}
	return Decision{
		Allowed:    out[0] == 1,
		Cost:       cost,
		Remaining:  out[1],
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}
