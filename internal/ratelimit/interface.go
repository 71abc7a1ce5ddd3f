package ratelimit

import (
	"context"
	"time"
)

// Limiter is a coarse request limiter keyed by an arbitrary string, in
// practice the client IP. It sits in front of the claim pipeline and is
// separate from the per-address and per-IP claim cooldowns.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)

	Remaining(ctx context.Context, key string) (int, error)

	Limit() int

	Window() time.Duration

	// Reset returns when key regains capacity.
	Reset(ctx context.Context, key string) (time.Time, error)
}

const httpKeyPrefix = "faucet:http:"

type clock func() time.Time
