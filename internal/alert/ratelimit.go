package alert

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds deliveries per webhook. Allow reserves a slot when it
// returns true; a denied call must not consume one.
type RateLimiter interface {
	Allow(ctx context.Context, webhookID string, limit RateLimit) (bool, error)
}

const rateLimitKeyPrefix = "webhook_ratelimit:"

// allowScript prunes the hour window, checks both ceilings, and reserves a
// slot in one atomic step, so concurrent callers (or replicas sharing Redis)
// can never both observe headroom and both reserve.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local hour_ago = tonumber(ARGV[2])
local minute_ago = tonumber(ARGV[3])
local max_minute = tonumber(ARGV[4])
local max_hour = tonumber(ARGV[5])
local member = ARGV[6]

redis.call('ZREMRANGEBYSCORE', key, 0, hour_ago)
local hour_count = redis.call('ZCARD', key)
local minute_count = redis.call('ZCOUNT', key, minute_ago, '+inf')
if minute_count >= max_minute or hour_count >= max_hour then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, 3600)
return 1
`)

// RedisRateLimiter implements sliding one-minute and one-hour windows over a
// single sorted set per webhook, scored by unix time. Shared across replicas
// so the limit holds fleet-wide.
type RedisRateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, now: time.Now}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, webhookID string, limit RateLimit) (bool, error) {
	key := rateLimitKeyPrefix + webhookID
	now := r.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	res, err := allowScript.Run(ctx, r.client, []string{key},
		now.Unix(),
		now.Add(-time.Hour).Unix(),
		now.Add(-time.Minute).Unix(),
		limit.MaxPerMinute,
		limit.MaxPerHour,
		member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

// MemoryRateLimiter is the single-process fallback.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, webhookID string, limit RateLimit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	kept := r.requests[webhookID][:0]
	var minuteCount int
	for _, ts := range r.requests[webhookID] {
		if ts.Before(hourAgo) {
			continue
		}
		kept = append(kept, ts)
		if ts.After(minuteAgo) {
			minuteCount++
		}
	}
	r.requests[webhookID] = kept

	if minuteCount >= limit.MaxPerMinute || len(kept) >= limit.MaxPerHour {
		return false, nil
	}
	r.requests[webhookID] = append(kept, now)
	return true, nil
}
