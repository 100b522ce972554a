package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-auth/internal/platform/clock"
)

// checkScript implements the window logic server side so that concurrent
// callers on one key serialize inside Redis.
//
// KEYS[1] entry hash; ARGV: now ms, max attempts, window ms.
// Returns {allowed, count, reset_at_ms}.
var checkScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset'))
if count == nil or reset == nil or now >= reset then
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1, reset}
end
if count >= max then
  return {0, count, reset}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, reset}
`)

// RedisLimiter keeps counters in Redis so that limits hold across replicas.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	clock  clock.Clock
}

// NewRedisLimiter constructs a RedisLimiter. A nil clock selects the system clock.
func NewRedisLimiter(client redis.Scripter, prefix string, clk clock.Clock) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if clk == nil {
		clk = clock.System()
	}
	return &RedisLimiter{client: client, prefix: prefix, clock: clk}
}

// Check records an attempt for key under rule.
func (l *RedisLimiter) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	now := l.clock.Now()
	res, err := checkScript.Run(ctx, l.client,
		[]string{l.redisKey(rule.Name, key)},
		now.UnixMilli(), rule.MaxAttempts, rule.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis check: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis check: unexpected reply %v", res)
	}
	return decide(res[0] == 1, int(res[1]), time.UnixMilli(res[2]).UTC(), now), nil
}

func (l *RedisLimiter) redisKey(rule, key string) string {
	return l.prefix + ":" + rule + ":" + key
}

var _ Limiter = (*RedisLimiter)(nil)
