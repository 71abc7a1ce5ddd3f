package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/redis/go-redis/v9"
)

// FixedWindowLimiter counts requests per aligned window with INCR + EXPIRE.
type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	now    clock
}

func NewFixedWindow(redis *storage.RedisClient, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (f *FixedWindowLimiter) windowIndex() int64 {
	return f.now().Unix() / int64(f.window.Seconds())
}

func (f *FixedWindowLimiter) key(key string, index int64) string {
	return fmt.Sprintf("%sfixed:%s:%d", httpKeyPrefix, key, index)
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := f.key(key, f.windowIndex())

	count, err := f.redis.Incr(ctx, redisKey)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := f.redis.Expire(ctx, redisKey, f.window); err != nil {
			return false, err
		}
	}

	return count <= int64(f.limit), nil
}

func (f *FixedWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	val, err := f.redis.Get(ctx, f.key(key, f.windowIndex()))
	if errors.Is(err, redis.Nil) {
		return f.limit, nil
	}
	if err != nil {
		return 0, err
	}

	count, _ := strconv.Atoi(val)
	return max(f.limit-count, 0), nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

// Reset is the start of the next window.
func (f *FixedWindowLimiter) Reset(_ context.Context, _ string) (time.Time, error) {
	seconds := int64(f.window.Seconds())
	return time.Unix((f.windowIndex()+1)*seconds, 0), nil
}
