package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"policyhub-backend/pkg/clock"
)

// RateLimiter provides rate limiting functionality
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SlidingWindowLimiter keeps the request times of every key in memory
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	windows    map[string][]time.Time
	limit      int
	windowSize time.Duration
	clock      clock.Clock
}

// NewSlidingWindowLimiter allows limit requests per key in any windowSize span
func NewSlidingWindowLimiter(limit int, windowSize time.Duration, clk clock.Clock) *SlidingWindowLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &SlidingWindowLimiter{
		windows:    make(map[string][]time.Time),
		limit:      limit,
		windowSize: windowSize,
		clock:      clk,
	}
}

// Allow checks if a request is allowed
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	windowStart := now.Add(-l.windowSize)

	requests := l.windows[key]
	kept := requests[:0]
	for _, t := range requests {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.windows[key] = kept
		return false, nil
	}
	l.windows[key] = append(kept, now)
	return true, nil
}

// RedisWindowLimiter counts requests per fixed window in Redis so every
// instance shares the budget
type RedisWindowLimiter struct {
	client     goredis.Cmdable
	limit      int
	windowSize time.Duration
	prefix     string
	clock      clock.Clock
}

// NewRedisWindowLimiter creates a limiter over client
func NewRedisWindowLimiter(client goredis.Cmdable, limit int, windowSize time.Duration, clk clock.Clock) *RedisWindowLimiter {
	if clk == nil {
		clk = clock.System()
	}
	return &RedisWindowLimiter{client: client, limit: limit, windowSize: windowSize, prefix: "ratelimit:", clock: clk}
}

func (l *RedisWindowLimiter) windowKey(key string) string {
	window := l.clock.Now().UnixNano() / int64(l.windowSize)
	return fmt.Sprintf("%s%s:%d", l.prefix, key, window)
}

// Allow checks if a request is allowed
func (l *RedisWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.windowKey(key)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpire(ctx, k, l.windowSize)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(l.limit), nil
}
