package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/storage"
)

const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
)

// NewLimiter builds the limiter named by algorithm. An empty name selects a
// fixed window.
func NewLimiter(redis *storage.RedisClient, algorithm string, limit int, window time.Duration) (Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", limit)
	}
	if window < time.Second {
		return nil, fmt.Errorf("rate limit window must be at least 1s, got %s", window)
	}

	switch algorithm {
	case AlgorithmFixedWindow, "":
		return NewFixedWindow(redis, limit, window), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindow(redis, limit, window), nil
	case AlgorithmTokenBucket:
		return NewTokenBucket(redis, limit, window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q", algorithm)
	}
}
