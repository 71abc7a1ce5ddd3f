package repository

import (
	"context"
	"testing"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/models"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

const addrA = "oct9gTHVFW4f1LnuAy6btBWowA6QYCmPcGXmbKbNiuVSzFZ"
const addrB = "oct11111111111111111111111111111111111111111111"

func setupDB(t *testing.T) *storage.Postgres {
	t.Helper()

	db, err := storage.Open(sqlite.Open(":memory:"), storage.PostgresOptions{
		MaxOpenConns: 1,
		LogLevel:     logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func seed(t *testing.T, repo *ClaimAttemptRepository, base time.Time) {
	t.Helper()

	attempts := []models.ClaimAttempt{
		{Address: addrA, ClientIP: "203.0.113.7", Outcome: models.OutcomeSuccess, TxHash: "hash-a", Amount: "10", Nonce: 42, DurationMs: 200, CreatedAt: base},
		{Address: addrA, ClientIP: "203.0.113.7", Outcome: models.OutcomeRateLimited, DurationMs: 10, CreatedAt: base.Add(time.Minute)},
		{Address: addrB, ClientIP: "198.51.100.1", Outcome: models.OutcomeSuccess, TxHash: "hash-b", Amount: "10", Nonce: 43, DurationMs: 300, CreatedAt: base.Add(time.Hour)},
		{Address: addrB, ClientIP: "198.51.100.1", Outcome: models.OutcomeCaptchaFailed, DurationMs: 100, CreatedAt: base.Add(time.Hour + time.Minute)},
	}
	require.NoError(t, repo.CreateBatch(context.Background(), attempts))
}

func TestClaimAttemptRepository(t *testing.T) {
	repo := NewClaimAttemptRepository(setupDB(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seed(t, repo, base)

	from, to := base.Add(-time.Hour), base.Add(2*time.Hour)

	t.Run("find by hash", func(t *testing.T) {
		got, err := repo.FindByTxHash(ctx, "hash-b")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, addrB, got.Address)
		assert.Equal(t, uint64(43), got.Nonce)

		got, err = repo.FindByTxHash(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("find by address", func(t *testing.T) {
		got, err := repo.FindByAddress(ctx, addrA, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, models.OutcomeRateLimited, got[0].Outcome)
	})

	t.Run("count by outcome", func(t *testing.T) {
		counts, err := repo.CountByOutcome(ctx, from, to)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[models.OutcomeSuccess])
		assert.Equal(t, int64(1), counts[models.OutcomeRateLimited])
		assert.Equal(t, int64(1), counts[models.OutcomeCaptchaFailed])
	})

	t.Run("totals", func(t *testing.T) {
		total, err := repo.TotalDisbursed(ctx, from, to)
		require.NoError(t, err)
		assert.Equal(t, "20", total.String())

		distinct, err := repo.CountDistinctAddresses(ctx, from, to)
		require.NoError(t, err)
		assert.Equal(t, int64(2), distinct)

		avg, err := repo.GetAverageDuration(ctx, from, to)
		require.NoError(t, err)
		assert.InDelta(t, 152.5, avg, 0.001)
	})

	t.Run("range filter", func(t *testing.T) {
		counts, err := repo.CountByOutcome(ctx, base.Add(30*time.Minute), to)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[models.OutcomeSuccess])
		assert.Zero(t, counts[models.OutcomeRateLimited])

		rows, err := repo.FindInRange(ctx, from, to, 100)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.True(t, rows[0].CreatedAt.Equal(base))
	})

	t.Run("empty range", func(t *testing.T) {
		empty := base.Add(24 * time.Hour)
		total, err := repo.TotalDisbursed(ctx, empty, empty.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, total.IsZero())

		avg, err := repo.GetAverageDuration(ctx, empty, empty.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, avg)
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := repo.DeleteBefore(ctx, base.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestAuthRepository(t *testing.T) {
	repo := NewUserRepository(setupDB(t))
	ctx := context.Background()

	got, err := repo.FindByEmail(ctx, "ops@octra.test")
	require.NoError(t, err)
	assert.Nil(t, got)

	user := &models.User{Email: "ops@octra.test", PasswordHash: "x", Name: "Ops", Role: "admin"}
	require.NoError(t, repo.Create(ctx, user))

	got, err = repo.FindByEmail(ctx, "ops@octra.test")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.Nil(t, got.LastLoginAt)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLastLogin(ctx, got, at))

	got, err = repo.FindByEmail(ctx, "ops@octra.test")
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(at))

	assert.Error(t, repo.Create(ctx, &models.User{Email: "ops@octra.test", PasswordHash: "y"}))
}
