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

// ErrStoreUnavailable wraps any Redis failure on the cooldown path. Callers
// treat it as "not eligible" and refuse the claim.
var ErrStoreUnavailable = errors.New("cooldown store unavailable")

const cooldownKeyPrefix = "faucet:cooldown:"

func AddressKey(address string) string {
	return cooldownKeyPrefix + "address:" + address
}

func IPKey(ip string) string {
	return cooldownKeyPrefix + "ip:" + ip
}

// CooldownStore records the last claim time per address and per IP. A key is
// written with SET NX before a claim is attempted so two concurrent claims
// for the same address cannot both pass the check.
type CooldownStore struct {
	redis *storage.RedisClient
}

func NewCooldownStore(redis *storage.RedisClient) *CooldownStore {
	return &CooldownStore{redis: redis}
}

// Get returns the recorded claim time for key, if any.
func (s *CooldownStore) Get(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, key, err)
	}

	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Unparseable records still block; treat them as written just now
		// rather than silently granting a claim.
		return time.Now(), true, nil
	}
	return time.Unix(ts, 0), true, nil
}

// Reserve claims key for ttl starting at now. When the key is already held
// it returns false and the holder's timestamp.
func (s *CooldownStore) Reserve(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, time.Time, error) {
	ok, err := s.redis.SetNX(ctx, key, now.Unix(), ttl)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("%w: reserve %s: %w", ErrStoreUnavailable, key, err)
	}
	if ok {
		return true, now, nil
	}

	last, found, err := s.Get(ctx, key)
	if err != nil {
		return false, time.Time{}, err
	}
	if !found {
		// Expired between SETNX and GET; report it as just held.
		last = now
	}
	return false, last, nil
}

// Commit overwrites key with the final claim time and a fresh ttl.
func (s *CooldownStore) Commit(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, now.Unix(), ttl); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrStoreUnavailable, key, err)
	}
	return nil
}

// Release drops a reservation taken by an attempt that did not pay out.
func (s *CooldownStore) Release(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key); err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrStoreUnavailable, key, err)
	}
	return nil
}
