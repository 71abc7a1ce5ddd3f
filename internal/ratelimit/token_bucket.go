package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/redis/go-redis/v9"
)

// TokenBucket refills capacity tokens evenly over window. State is a small
// JSON document per key.
type TokenBucket struct {
	redis    *storage.RedisClient
	capacity int
	window   time.Duration
	now      clock
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		redis:    redis,
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

func (t *TokenBucket) key(key string) string {
	return httpKeyPrefix + "bucket:" + key
}

// load returns the refilled state for key as of now.
func (t *TokenBucket) load(ctx context.Context, key string, now time.Time) (bucketState, error) {
	data, err := t.redis.Get(ctx, t.key(key))
	if errors.Is(err, redis.Nil) {
		return bucketState{Tokens: float64(t.capacity), LastRefill: now}, nil
	}
	if err != nil {
		return bucketState{}, err
	}

	var state bucketState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		// Corrupt state starts a fresh bucket.
		return bucketState{Tokens: float64(t.capacity), LastRefill: now}, nil
	}

	elapsed := now.Sub(state.LastRefill).Seconds()
	if elapsed > 0 {
		refilled := elapsed * float64(t.capacity) / t.window.Seconds()
		state.Tokens = math.Min(state.Tokens+refilled, float64(t.capacity))
		state.LastRefill = now
	}
	return state, nil
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	now := t.now()
	state, err := t.load(ctx, key, now)
	if err != nil {
		return false, err
	}

	allowed := state.Tokens >= 1
	if allowed {
		state.Tokens--
	}

	data, err := json.Marshal(state)
	if err != nil {
		return false, err
	}
	if err := t.redis.Set(ctx, t.key(key), data, t.window); err != nil {
		return false, err
	}

	return allowed, nil
}

func (t *TokenBucket) Remaining(ctx context.Context, key string) (int, error) {
	state, err := t.load(ctx, key, t.now())
	if err != nil {
		return 0, err
	}
	return int(state.Tokens), nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Window() time.Duration {
	return t.window
}

// Reset is when the next whole token becomes available.
func (t *TokenBucket) Reset(ctx context.Context, key string) (time.Time, error) {
	now := t.now()
	state, err := t.load(ctx, key, now)
	if err != nil {
		return time.Time{}, err
	}
	if state.Tokens >= 1 {
		return now, nil
	}

	wait := (1 - state.Tokens) * t.window.Seconds() / float64(t.capacity)
	return now.Add(time.Duration(math.Ceil(wait*1000)) * time.Millisecond), nil
}
