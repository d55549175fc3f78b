package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ThrottleConfig defines a sliding-window ceiling per key.
type ThrottleConfig struct {
	Limit     int           // Maximum events allowed per key
	Window    time.Duration // Time window for the limit
	KeyPrefix string        // Redis key namespace (default "throttle:push:")
}

// ThrottleResult contains the result of a throttle check.
type ThrottleResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// throttleScript prunes the window, checks the cap, and records the event
// in one atomic step, so concurrent checks for the same key cannot both
// slip past the cap. Returns -1 when over the cap, else the remaining
// allowance after recording.
var throttleScript = redis.NewScript(`
local key = KEYS[1]
local member = ARGV[1]
local score = tonumber(ARGV[2])
local window_start = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local count = redis.call('ZCARD', key)
if count >= limit then
	return -1
end
redis.call('ZADD', key, score, member)
redis.call('PEXPIRE', key, ttl_ms)
return limit - count - 1
`)

// PushThrottle caps how many pushes one user receives per window using a
// sliding window over a Redis sorted set. Over-cap notifications are
// deferred to a later cycle, never dropped.
type PushThrottle struct {
	client *Client
	logger *zap.Logger
	config ThrottleConfig

	// seq keeps set members unique when two checks land on the same
	// nanosecond; a duplicate member would overwrite and undercount.
	seq atomic.Int64
}

// NewPushThrottle creates a throttle with the given configuration.
func NewPushThrottle(client *Client, logger *zap.Logger, config ThrottleConfig) *PushThrottle {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "throttle:push:"
	}
	return &PushThrottle{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow records one push for userID if under the cap and reports whether
// the push may proceed.
func (t *PushThrottle) Allow(ctx context.Context, userID string) (*ThrottleResult, error) {
	now := time.Now()
	windowStart := now.Add(-t.config.Window)
	resetAt := now.Add(t.config.Window)

	key := t.config.KeyPrefix + userID
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatInt(t.seq.Add(1), 10)

	remaining, err := throttleScript.Run(ctx, t.client.rdb, []string{key},
		member,
		now.UnixNano(),
		windowStart.UnixNano(),
		t.config.Limit,
		t.config.Window.Milliseconds(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("throttle script failed: %w", err)
	}

	if remaining < 0 {
		t.logger.Debug("push throttle exceeded",
			zap.String("user_id", userID),
			zap.Int("limit", t.config.Limit),
		)
		return &ThrottleResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
		}, nil
	}

	return &ThrottleResult{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
