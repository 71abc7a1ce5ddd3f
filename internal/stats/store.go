package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	KeyTotalClaimed      = "faucet:stats:total_claimed"
	KeyTotalUsers        = "faucet:stats:total_users"
	KeyTotalTransactions = "faucet:stats:total_transactions"
	KeyLastClaim         = "faucet:stats:last_claim"

	seenPrefix = "faucet:seen:"
	txPrefix   = "faucet:tx:"
)

func SeenKey(address string) string { return seenPrefix + address }

func TxKey(hash string) string { return txPrefix + hash }

// Snapshot is the aggregate view served by GET /stats.
type Snapshot struct {
	TotalClaimed      decimal.Decimal
	TotalUsers        int64
	TotalTransactions int64
	LastClaimAt       time.Time // zero when nothing was ever paid out
}

// Disbursement is the audit entry kept per transaction hash.
type Disbursement struct {
	TxHash    string
	Address   string
	ClientIP  string
	Amount    decimal.Decimal
	Nonce     uint64
	Timestamp time.Time
}

// Store keeps the faucet's running totals in Redis. Counters only grow.
type Store struct {
	redis *storage.RedisClient
}

func NewStore(redis *storage.RedisClient) *Store {
	return &Store{redis: redis}
}

func (s *Store) IncrementTransactions(ctx context.Context) error {
	if _, err := s.redis.Incr(ctx, KeyTotalTransactions); err != nil {
		return fmt.Errorf("increment transactions: %w", err)
	}
	return nil
}

func (s *Store) AddClaimed(ctx context.Context, amount decimal.Decimal) error {
	if _, err := s.redis.IncrByFloat(ctx, KeyTotalClaimed, amount.InexactFloat64()); err != nil {
		return fmt.Errorf("add claimed amount: %w", err)
	}
	return nil
}

// MarkSeen sets the first-seen marker for address and bumps the user count
// only when the marker did not exist before. It reports whether the address
// is new.
func (s *Store) MarkSeen(ctx context.Context, address string) (bool, error) {
	created, err := s.redis.SetNX(ctx, SeenKey(address), time.Now().Unix(), 0)
	if err != nil {
		return false, fmt.Errorf("mark address seen: %w", err)
	}
	if !created {
		return false, nil
	}
	if _, err := s.redis.Incr(ctx, KeyTotalUsers); err != nil {
		return true, fmt.Errorf("increment users: %w", err)
	}
	return true, nil
}

func (s *Store) SetLastClaim(ctx context.Context, at time.Time) error {
	if err := s.redis.Set(ctx, KeyLastClaim, at.Unix(), 0); err != nil {
		return fmt.Errorf("set last claim: %w", err)
	}
	return nil
}

func (s *Store) RecordDisbursement(ctx context.Context, d Disbursement) error {
	err := s.redis.HSet(ctx, TxKey(d.TxHash),
		"address", d.Address,
		"ip", d.ClientIP,
		"amount", d.Amount.String(),
		"nonce", strconv.FormatUint(d.Nonce, 10),
		"timestamp", strconv.FormatInt(d.Timestamp.Unix(), 10),
	)
	if err != nil {
		return fmt.Errorf("record disbursement %s: %w", d.TxHash, err)
	}
	return nil
}

// Disbursement looks up the audit entry for hash. found is false when no
// such transaction was paid by this faucet.
func (s *Store) Disbursement(ctx context.Context, hash string) (Disbursement, bool, error) {
	fields, err := s.redis.HGetAll(ctx, TxKey(hash))
	if err != nil {
		return Disbursement{}, false, fmt.Errorf("read disbursement %s: %w", hash, err)
	}
	if len(fields) == 0 {
		return Disbursement{}, false, nil
	}

	d := Disbursement{
		TxHash:   hash,
		Address:  fields["address"],
		ClientIP: fields["ip"],
		Amount:   decimal.Zero,
	}
	if v, err := decimal.NewFromString(fields["amount"]); err == nil {
		d.Amount = v
	}
	if v, err := strconv.ParseUint(fields["nonce"], 10, 64); err == nil {
		d.Nonce = v
	}
	if v, err := strconv.ParseInt(fields["timestamp"], 10, 64); err == nil {
		d.Timestamp = time.Unix(v, 0)
	}
	return d, true, nil
}

// Read loads all counters in one round trip. A counter that cannot be read
// or parsed is reported as zero; the returned error lists what failed.
func (s *Store) Read(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{TotalClaimed: decimal.Zero}

	pipe := s.redis.Pipeline()
	claimed := pipe.Get(ctx, KeyTotalClaimed)
	users := pipe.Get(ctx, KeyTotalUsers)
	txs := pipe.Get(ctx, KeyTotalTransactions)
	last := pipe.Get(ctx, KeyLastClaim)
	_, _ = pipe.Exec(ctx)

	var errs []error
	value := func(cmd *redis.StringCmd) (string, bool) {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			return "", false
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", cmd.Args()[1], err))
			return "", false
		}
		return v, true
	}

	if v, ok := value(claimed); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			snap.TotalClaimed = d
		} else {
			errs = append(errs, fmt.Errorf("parse %s: %w", KeyTotalClaimed, err))
		}
	}
	if v, ok := value(users); ok {
		snap.TotalUsers, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := value(txs); ok {
		snap.TotalTransactions, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := value(last); ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil && ts > 0 {
			snap.LastClaimAt = time.Unix(ts, 0)
		}
	}

	return snap, errors.Join(errs...)
}
