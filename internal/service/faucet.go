package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/metrics"
	"github.com/aman-churiwal/octra-faucet/internal/models"
	"github.com/aman-churiwal/octra-faucet/internal/octra"
	"github.com/aman-churiwal/octra-faucet/internal/ratelimit"
	"github.com/aman-churiwal/octra-faucet/internal/stats"
	"github.com/aman-churiwal/octra-faucet/internal/transaction"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const postClaimTimeout = 10 * time.Second

type NodeClient interface {
	FetchAddressInfo(ctx context.Context) (octra.AddressInfo, error)
	Submit(ctx context.Context, tx *transaction.Transaction) (octra.SubmitResult, error)
}

type TxBuilder interface {
	Build(sender, recipient string, amount decimal.Decimal, nonce uint64) (*transaction.Transaction, error)
}

type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) bool
}

type CooldownStore interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Reserve(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, time.Time, error)
	Commit(ctx context.Context, key string, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type StatsStore interface {
	IncrementTransactions(ctx context.Context) error
	AddClaimed(ctx context.Context, amount decimal.Decimal) error
	MarkSeen(ctx context.Context, address string) (bool, error)
	SetLastClaim(ctx context.Context, at time.Time) error
	RecordDisbursement(ctx context.Context, d stats.Disbursement) error
	Read(ctx context.Context) (stats.Snapshot, error)
}

type AttemptRecorder interface {
	Record(attempt models.ClaimAttempt) bool
}

type FaucetConfig struct {
	Treasury        string
	Amount          decimal.Decimal
	AddressCooldown time.Duration
	IPCooldown      time.Duration
}

type ClaimRequest struct {
	Address      string
	CaptchaToken string
	ClientIP     string
}

type ClaimResult struct {
	Success        bool           `json:"success"`
	TxHash         string         `json:"txHash,omitempty"`
	Amount         string         `json:"amount,omitempty"`
	Error          string         `json:"error,omitempty"`
	Code           models.Outcome `json:"code,omitempty"`
	NextEligibleAt int64          `json:"nextEligibleAt,omitempty"`
}

type Eligibility struct {
	Eligible      bool   `json:"eligible"`
	Reason        string `json:"reason,omitempty"`
	NextClaimTime int64  `json:"nextClaimTime,omitempty"`
}

type Statistics struct {
	TotalClaimed       decimal.Decimal `json:"totalClaimed"`
	TotalUsers         int64           `json:"totalUsers"`
	TotalTransactions  int64           `json:"totalTransactions"`
	LastClaimAt        int64           `json:"lastClaimAt,omitempty"`
	FaucetBalance      decimal.Decimal `json:"faucetBalance"`
	DisbursementAmount decimal.Decimal `json:"disbursementAmount"`
	FaucetAddress      string          `json:"faucetAddress"`
}

// FaucetService runs the claim pipeline: captcha, cooldown reservations,
// balance check, build/sign, submit, then cooldown commit and statistics.
type FaucetService struct {
	cfg       FaucetConfig
	node      NodeClient
	signer    TxBuilder
	captcha   CaptchaVerifier
	cooldowns CooldownStore
	stats     StatsStore
	recorder  AttemptRecorder
	logger    *zap.Logger
	now       func() time.Time
}

func NewFaucetService(
	cfg FaucetConfig,
	node NodeClient,
	signer TxBuilder,
	captcha CaptchaVerifier,
	cooldowns CooldownStore,
	stats StatsStore,
	recorder AttemptRecorder,
	logger *zap.Logger,
) *FaucetService {
	return &FaucetService{
		cfg:       cfg,
		node:      node,
		signer:    signer,
		captcha:   captcha,
		cooldowns: cooldowns,
		stats:     stats,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "faucet")),
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *FaucetService) WithClock(now func() time.Time) *FaucetService {
	s.now = now
	return s
}

func (s *FaucetService) Amount() decimal.Decimal {
	return s.cfg.Amount
}

func (s *FaucetService) TreasuryAddress() string {
	return s.cfg.Treasury
}

// Claim disburses the configured amount to req.Address. A rejected or failed
// claim returns a *ClaimError.
func (s *FaucetService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	start := s.now()
	attempt := models.ClaimAttempt{
		Address:   req.Address,
		ClientIP:  req.ClientIP,
		CreatedAt: start.UTC(),
	}

	result, err := s.claim(ctx, req, start, &attempt)

	attempt.Outcome = models.OutcomeSuccess
	var ce *ClaimError
	if errors.As(err, &ce) {
		attempt.Outcome = ce.Code
		attempt.Error = ce.Error()
	} else if err != nil {
		attempt.Outcome = models.OutcomeInternalError
		attempt.Error = err.Error()
	}
	elapsed := s.now().Sub(start)
	attempt.DurationMs = elapsed.Milliseconds()

	if s.recorder != nil {
		s.recorder.Record(attempt)
	}
	metrics.ObserveClaim(string(attempt.Outcome), elapsed)

	return result, err
}

func (s *FaucetService) claim(ctx context.Context, req ClaimRequest, now time.Time, attempt *models.ClaimAttempt) (*ClaimResult, error) {
	log := s.logger.With(zap.String("address", req.Address), zap.String("ip", req.ClientIP))

	if !octra.IsValidAddress(req.Address) {
		return nil, newClaimError(models.OutcomeValidationError, ErrInvalidAddress.Error(), nil)
	}

	if !s.captcha.Verify(ctx, req.CaptchaToken, req.ClientIP) {
		return nil, newClaimError(models.OutcomeCaptchaFailed, "captcha verification failed", nil)
	}

	addressKey := ratelimit.AddressKey(req.Address)
	ipKey := ratelimit.IPKey(req.ClientIP)

	if err := s.reserve(ctx, addressKey, now, s.cfg.AddressCooldown, "this address has already claimed recently"); err != nil {
		return nil, err
	}
	if err := s.reserve(ctx, ipKey, now, s.cfg.IPCooldown, "too many claims from this IP address"); err != nil {
		s.release(ctx, log, addressKey)
		return nil, err
	}

	fail := func(err *ClaimError) (*ClaimResult, error) {
		s.release(ctx, log, addressKey, ipKey)
		return nil, err
	}

	info, err := s.node.FetchAddressInfo(ctx)
	if err != nil {
		log.Error("treasury lookup failed", zap.Error(err))
		return fail(newClaimError(models.OutcomeUpstreamFailure, "unable to reach the Octra network, please try again later", err))
	}
	metrics.TreasuryBalance.Set(info.Balance.InexactFloat64())

	if info.Balance.LessThan(s.cfg.Amount) {
		log.Warn("treasury exhausted",
			zap.String("balance", info.Balance.String()),
			zap.String("amount", s.cfg.Amount.String()))
		return fail(newClaimError(models.OutcomeTreasuryExhausted, "faucet temporarily out of funds", nil))
	}

	tx, err := s.signer.Build(s.cfg.Treasury, req.Address, s.cfg.Amount, info.Nonce+1)
	if err != nil {
		log.Error("failed to build transaction", zap.Error(err))
		return fail(newClaimError(models.OutcomeInternalError, "internal error", err))
	}
	attempt.Nonce = tx.Nonce
	attempt.Amount = s.cfg.Amount.String()

	submitted, err := s.node.Submit(ctx, tx)
	if err != nil {
		log.Error("transaction submit failed", zap.Uint64("nonce", tx.Nonce), zap.Error(err))
		return fail(newClaimError(models.OutcomeUpstreamFailure, "unable to reach the Octra network, please try again later", err))
	}
	if !submitted.Success {
		log.Warn("transaction rejected", zap.Uint64("nonce", tx.Nonce), zap.String("error", submitted.Error))
		return fail(newClaimError(models.OutcomeUpstreamFailure, submitted.Error, nil))
	}

	attempt.TxHash = submitted.Hash
	s.recordSuccess(ctx, log, req, tx, submitted.Hash)

	log.Info("claim disbursed",
		zap.String("tx_hash", submitted.Hash),
		zap.Uint64("nonce", tx.Nonce),
		zap.String("amount", s.cfg.Amount.String()))

	return &ClaimResult{
		Success: true,
		TxHash:  submitted.Hash,
		Amount:  s.cfg.Amount.String(),
	}, nil
}

// reserve takes the cooldown for key or explains why it cannot.
func (s *FaucetService) reserve(ctx context.Context, key string, now time.Time, cooldown time.Duration, message string) error {
	for retry := 0; retry < 2; retry++ {
		ok, last, err := s.cooldowns.Reserve(ctx, key, now, cooldown)
		if err != nil {
			s.logger.Error("cooldown reservation failed", zap.String("key", key), zap.Error(err))
			return newClaimError(models.OutcomeInternalError, "internal error", err)
		}
		if ok {
			return nil
		}

		next := last.Add(cooldown)
		if now.Before(next) {
			return &ClaimError{
				Code:           models.OutcomeRateLimited,
				Message:        message,
				NextEligibleAt: next,
			}
		}

		// A record older than the cooldown outlived its TTL; clear it and retry.
		if err := s.cooldowns.Release(ctx, key); err != nil {
			return newClaimError(models.OutcomeInternalError, "internal error", err)
		}
	}

	return newClaimError(models.OutcomeInternalError, "internal error",
		fmt.Errorf("%w: %s kept reappearing", ErrCooldownUnknown, key))
}

// release drops reservations of an attempt that paid nothing. It must not
// depend on the client still being connected.
func (s *FaucetService) release(ctx context.Context, log *zap.Logger, keys ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postClaimTimeout)
	defer cancel()

	for _, key := range keys {
		if err := s.cooldowns.Release(ctx, key); err != nil {
			log.Error("failed to release cooldown reservation", zap.String("key", key), zap.Error(err))
		}
	}
}

// recordSuccess commits both cooldowns and updates statistics concurrently.
// Failures are logged and left in place; the tokens have already been sent.
func (s *FaucetService) recordSuccess(ctx context.Context, log *zap.Logger, req ClaimRequest, tx *transaction.Transaction, hash string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postClaimTimeout)
	defer cancel()

	at := s.now()
	var g errgroup.Group

	run := func(step string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				log.Error("post-claim write failed",
					zap.String("step", step),
					zap.String("tx_hash", hash),
					zap.Error(err))
				return err
			}
			return nil
		})
	}

	run("commit_address_cooldown", func() error {
		return s.cooldowns.Commit(ctx, ratelimit.AddressKey(req.Address), at, s.cfg.AddressCooldown)
	})
	run("commit_ip_cooldown", func() error {
		return s.cooldowns.Commit(ctx, ratelimit.IPKey(req.ClientIP), at, s.cfg.IPCooldown)
	})
	run("total_transactions", func() error {
		return s.stats.IncrementTransactions(ctx)
	})
	run("total_claimed", func() error {
		return s.stats.AddClaimed(ctx, s.cfg.Amount)
	})
	run("total_users", func() error {
		_, err := s.stats.MarkSeen(ctx, req.Address)
		return err
	})
	run("last_claim", func() error {
		return s.stats.SetLastClaim(ctx, at)
	})
	run("disbursement", func() error {
		return s.stats.RecordDisbursement(ctx, stats.Disbursement{
			TxHash:    hash,
			Address:   req.Address,
			ClientIP:  req.ClientIP,
			Amount:    s.cfg.Amount,
			Nonce:     tx.Nonce,
			Timestamp: at,
		})
	})

	if err := g.Wait(); err != nil {
		log.Warn("claim recorded with errors, state may be inconsistent", zap.String("tx_hash", hash))
	}
}

// CheckEligibility reports whether address is outside its cooldown. It only
// reads; the IP cooldown is not considered.
func (s *FaucetService) CheckEligibility(ctx context.Context, address string) (*Eligibility, error) {
	if !octra.IsValidAddress(address) {
		return nil, ErrInvalidAddress
	}

	last, found, err := s.cooldowns.Get(ctx, ratelimit.AddressKey(address))
	if err != nil {
		s.logger.Error("eligibility lookup failed", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCooldownUnknown, err)
	}

	if found {
		next := last.Add(s.cfg.AddressCooldown)
		if s.now().Before(next) {
			return &Eligibility{
				Eligible:      false,
				Reason:        "this address has already claimed recently",
				NextClaimTime: next.Unix(),
			}, nil
		}
	}

	return &Eligibility{Eligible: true}, nil
}

// GetStats reads the counters and a fresh treasury balance. A failed read
// shows up as zero for that field.
func (s *FaucetService) GetStats(ctx context.Context) *Statistics {
	snap, err := s.stats.Read(ctx)
	if err != nil {
		s.logger.Warn("statistics partially unavailable", zap.Error(err))
	}

	out := &Statistics{
		TotalClaimed:       snap.TotalClaimed,
		TotalUsers:         snap.TotalUsers,
		TotalTransactions:  snap.TotalTransactions,
		FaucetBalance:      decimal.Zero,
		DisbursementAmount: s.cfg.Amount,
		FaucetAddress:      s.cfg.Treasury,
	}
	if !snap.LastClaimAt.IsZero() {
		out.LastClaimAt = snap.LastClaimAt.Unix()
	}

	info, err := s.node.FetchAddressInfo(ctx)
	if err != nil {
		s.logger.Warn("treasury balance unavailable", zap.Error(err))
	} else {
		out.FaucetBalance = info.Balance
		metrics.TreasuryBalance.Set(info.Balance.InexactFloat64())
	}

	return out
}

// Treasury returns the faucet wallet's balance and nonce as the node reports
// them.
func (s *FaucetService) Treasury(ctx context.Context) (octra.AddressInfo, error) {
	return s.node.FetchAddressInfo(ctx)
}
