package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter keeps one sorted-set member per accepted request,
// scored by its unix-nano timestamp.
type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	now    clock
}

func NewSlidingWindow(redis *storage.RedisClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (s *SlidingWindowLimiter) key(key string) string {
	return httpKeyPrefix + "sliding:" + key
}

func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := s.key(key)
	now := s.now()
	windowStart := now.Add(-s.window)

	pipe := s.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if countCmd.Val() >= int64(s.limit) {
		return false, nil
	}

	// Members must be unique or two requests in the same nanosecond collapse.
	pipe = s.redis.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
	})
	pipe.Expire(ctx, redisKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (s *SlidingWindowLimiter) Remaining(ctx context.Context, key string) (int, error) {
	now := s.now()
	windowStart := now.Add(-s.window)

	count, err := s.redis.ZCount(ctx, s.key(key),
		"("+strconv.FormatInt(windowStart.UnixNano(), 10),
		strconv.FormatInt(now.UnixNano(), 10))
	if err != nil {
		return 0, err
	}

	return max(s.limit-int(count), 0), nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

// Reset is when the oldest request in the window ages out.
func (s *SlidingWindowLimiter) Reset(ctx context.Context, key string) (time.Time, error) {
	pipe := s.redis.Pipeline()
	oldestCmd := pipe.ZRangeWithScores(ctx, s.key(key), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return time.Time{}, err
	}

	oldest := oldestCmd.Val()
	if len(oldest) == 0 {
		return s.now(), nil
	}

	return time.Unix(0, int64(oldest[0].Score)).Add(s.window), nil
}
