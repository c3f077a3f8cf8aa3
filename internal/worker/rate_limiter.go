package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/service/sending"
)

// RateLimit is the dispatch budget shared by every worker.
type RateLimit struct {
	PerSecond int
	Daily     int
}

// Checks both counters before incrementing either, so a denied call never
// consumes budget.
const sendLimitLuaScript = `
local secondKey = KEYS[1]
local dailyKey = KEYS[2]
local secondLimit = tonumber(ARGV[1])
local dailyLimit = tonumber(ARGV[2])

local sec = tonumber(redis.call("GET", secondKey) or "0")
local day = tonumber(redis.call("GET", dailyKey) or "0")

if dailyLimit > 0 and day + 1 > dailyLimit then
    return {0, 2}
end
if sec + 1 > secondLimit then
    return {0, 1}
end

if redis.call("INCR", secondKey) == 1 then
    redis.call("EXPIRE", secondKey, 2)
end
if redis.call("INCR", dailyKey) == 1 then
    redis.call("EXPIRE", dailyKey, 90000)
end
return {1, 0}
`

// RateLimiter paces sends with Redis counters so several worker processes
// share one budget. Without Redis it falls back to an in-process token
// bucket and daily counter.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	prefix string
	limit  RateLimit
	now    func() time.Time

	// local fallback
	bucket  *rate.Limiter
	mu      sync.Mutex
	day     string
	dayUsed int
}

// NewRateLimiter creates a limiter. client may be nil.
func NewRateLimiter(client *redis.Client, prefix string, limit RateLimit) *RateLimiter {
	if limit.PerSecond <= 0 {
		limit.PerSecond = 10
	}
	if prefix == "" {
		prefix = "ratelimit:send"
	}
	return &RateLimiter{
		redis:  client,
		script: redis.NewScript(sendLimitLuaScript),
		prefix: prefix,
		limit:  limit,
		now:    time.Now,
		bucket: rate.NewLimiter(rate.Limit(limit.PerSecond), 1),
	}
}

var _ sending.Limiter = (*RateLimiter)(nil)

// Wait blocks until one send is allowed, or returns
// sending.ErrDailyLimitReached once today's budget is gone.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.redis == nil {
		return r.waitLocal(ctx)
	}
	for {
		allowed, reason, err := r.take(ctx)
		if err != nil {
			// Redis trouble should slow us down, not stop delivery.
			logger.Warn("rate limiter redis error, using local pacer", "error", err)
			return r.waitLocal(ctx)
		}
		if allowed {
			return nil
		}
		if reason == 2 {
			return sending.ErrDailyLimitReached
		}
		now := r.now()
		wait := now.Truncate(time.Second).Add(time.Second).Sub(now)
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RateLimiter) take(ctx context.Context) (bool, int64, error) {
	now := r.now().UTC()
	keys := []string{
		fmt.Sprintf("%s:sec:%d", r.prefix, now.Unix()),
		fmt.Sprintf("%s:day:%s", r.prefix, now.Format("2006-01-02")),
	}
	res, err := r.script.Run(ctx, r.redis, keys, r.limit.PerSecond, r.limit.Daily).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	return res[0] == 1, res[1], nil
}

func (r *RateLimiter) waitLocal(ctx context.Context) error {
	if r.limit.Daily > 0 {
		r.mu.Lock()
		today := r.now().UTC().Format("2006-01-02")
		if today != r.day {
			r.day, r.dayUsed = today, 0
		}
		if r.dayUsed >= r.limit.Daily {
			r.mu.Unlock()
			return sending.ErrDailyLimitReached
		}
		r.dayUsed++
		r.mu.Unlock()
	}
	return r.bucket.Wait(ctx)
}

// Usage returns today's count from Redis, or from the local counter.
func (r *RateLimiter) Usage(ctx context.Context) (int, error) {
	if r.redis == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.day != r.now().UTC().Format("2006-01-02") {
			return 0, nil
		}
		return r.dayUsed, nil
	}
	key := fmt.Sprintf("%s:day:%s", r.prefix, r.now().UTC().Format("2006-01-02"))
	n, err := r.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily usage: %w", err)
	}
	return n, nil
}
