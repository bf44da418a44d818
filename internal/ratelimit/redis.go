package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements a sliding-window counter shared across all serving
// instances. The window is approximated with two fixed buckets: the previous
// bucket's count is weighted by how much of it still overlaps the trailing
// window. Everything runs in one Lua script so check-and-increment is atomic;
// a separate GET, check, and INCR from Go would race between instances.
type RedisLimiter struct {
	redis  *redis.Client
	window Window
	prefix string

	script *redis.Script
}

// Sliding-window check over two adjacent fixed buckets. Returns {allowed,
// weighted count}. Only increments the current bucket when allowed.
const slidingWindowScript = `
local currKey = KEYS[1]
local prevKey = KEYS[2]
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local curr = tonumber(redis.call("GET", currKey) or "0")
local prev = tonumber(redis.call("GET", prevKey) or "0")

local count = curr + math.floor(prev * weight + 0.5)
if count >= limit then
    return {0, count}
end

local newCurr = redis.call("INCR", currKey)
if newCurr == 1 then
    redis.call("EXPIRE", currKey, ttl)
end

return {1, count + 1}
`

// NewRedisLimiter creates a shared sliding-window limiter. The prefix keeps
// independent surfaces (submission, auth, api) from sharing buckets.
func NewRedisLimiter(client *redis.Client, prefix string, window Window) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		window: window,
		prefix: prefix,
		script: redis.NewScript(slidingWindowScript),
	}
}

// Allow checks and reserves one request for key. The returned error is only
// non-nil on store failure; callers compose with a fallback limiter rather
// than handling it directly.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	period := int64(l.window.Period / time.Second)
	now := time.Now().Unix()
	bucket := now / period

	currKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, key, bucket)
	prevKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, key, bucket-1)

	// Fraction of the previous bucket still inside the trailing window.
	elapsed := now % period
	weight := float64(period-elapsed) / float64(period)

	result, err := l.script.Run(ctx, l.redis,
		[]string{currKey, prevKey},
		l.window.Limit,
		weight,
		period*2,
	).Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed, _ := result[0].(int64)
	return allowed == 1, nil
}
