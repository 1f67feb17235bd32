// Package queue implements the Redis-backed job queue the Materializer
// enqueues batches onto and the Dispatcher Worker consumes from. The queue
// is hand-built on go-redis primitives, using an atomic Lua script for
// per-send rate admission so concurrent dispatcher processes never
// collectively exceed the configured budget.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// multiLimitLuaScript atomically checks a second/minute/daily budget and
// only increments the counters if all three would still be under limit.
const multiLimitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])
local secondTTL = tonumber(ARGV[5])
local minuteTTL = tonumber(ARGV[6])
local dailyTTL = tonumber(ARGV[7])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

if secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if minCurrent + increment > minuteLimit then
    return {0, 2, minCurrent}
end
if dayCurrent + increment > dailyLimit then
    return {0, 3, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, secondTTL)
end

local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end

local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, dailyTTL)
end

return {1, 0, newDay}
`

// RateLimiter admits the Dispatcher's provider sends (one Allow call per
// recipient) at the configured provider-plan rate, atomically, so
// concurrent dispatcher processes never
// collectively exceed the budget even under a GET-then-INCR race.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	plan   Plan
}

// Plan is a named rate budget, keyed by provider plan rather than ESP type
// since this system targets a single upstream provider.
type Plan struct {
	RequestsPerSecond int
	RequestsPerMinute int
	DailyLimit        int
}

// plans enumerates the rate budgets this system's single provider offers.
var plans = map[string]Plan{
	"production": {RequestsPerSecond: 8, RequestsPerMinute: 480, DailyLimit: 600000},
	"burst":      {RequestsPerSecond: 20, RequestsPerMinute: 1200, DailyLimit: 1500000},
}

// NewRateLimiter builds a rate limiter for the named provider plan.
func NewRateLimiter(client *redis.Client, planName string) (*RateLimiter, error) {
	plan, ok := plans[planName]
	if !ok {
		return nil, fmt.Errorf("queue: unknown provider plan %q", planName)
	}
	return &RateLimiter{
		redis:  client,
		script: redis.NewScript(multiLimitLuaScript),
		plan:   plan,
	}, nil
}

// Allow atomically checks and, if permitted, consumes n units of budget. The
// returned wait duration is a hint for how long the caller should back off
// before retrying when denied.
func (r *RateLimiter) Allow(ctx context.Context, n int) (allowed bool, wait time.Duration, err error) {
	now := time.Now()
	secondKey := fmt.Sprintf("ratelimit:dispatch:sec:%d", now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:dispatch:min:%d", now.Unix()/60)
	dailyKey := fmt.Sprintf("ratelimit:dispatch:day:%s", now.Format("2006-01-02"))

	result, err := r.script.Run(ctx, r.redis,
		[]string{secondKey, minuteKey, dailyKey},
		n,
		r.plan.RequestsPerSecond,
		r.plan.RequestsPerMinute,
		r.plan.DailyLimit,
		2, 120, 90000,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("queue: rate limit check failed: %w", err)
	}

	allowedInt := result[0].(int64)
	denialReason := result[1].(int64)
	allowed = allowedInt == 1

	if !allowed {
		switch denialReason {
		case 1:
			wait = time.Second
		case 2:
			wait = time.Duration(60-now.Second()) * time.Second
		case 3:
			return false, 0, fmt.Errorf("queue: daily rate limit exhausted")
		}
	}

	return allowed, wait, nil
}

// Usage reports current consumption against the second/minute/daily budget.
func (r *RateLimiter) Usage(ctx context.Context) (map[string]int64, error) {
	now := time.Now()
	secondKey := fmt.Sprintf("ratelimit:dispatch:sec:%d", now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:dispatch:min:%d", now.Unix()/60)
	dailyKey := fmt.Sprintf("ratelimit:dispatch:day:%s", now.Format("2006-01-02"))

	pipe := r.redis.Pipeline()
	secCmd := pipe.Get(ctx, secondKey)
	minCmd := pipe.Get(ctx, minuteKey)
	dayCmd := pipe.Get(ctx, dailyKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		logger.Warn("queue usage pipeline failed", "error", err)
	}

	sec, _ := secCmd.Int64()
	min, _ := minCmd.Int64()
	day, _ := dayCmd.Int64()

	return map[string]int64{
		"second_current": sec,
		"second_limit":   int64(r.plan.RequestsPerSecond),
		"minute_current": min,
		"minute_limit":   int64(r.plan.RequestsPerMinute),
		"daily_current":  day,
		"daily_limit":    int64(r.plan.DailyLimit),
	}, nil
}
