package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/models"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ClaimAttemptRepository struct {
	db *storage.Postgres
}

func NewClaimAttemptRepository(db *storage.Postgres) *ClaimAttemptRepository {
	return &ClaimAttemptRepository{db: db}
}

// Inserts multiple attempts in one statement
func (r *ClaimAttemptRepository) CreateBatch(ctx context.Context, attempts []models.ClaimAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&attempts).Error
}

// Returns nil when no successful attempt has that hash
func (r *ClaimAttemptRepository) FindByTxHash(ctx context.Context, hash string) (*models.ClaimAttempt, error) {
	var attempt models.ClaimAttempt
	err := r.db.DB.WithContext(ctx).
		Where("tx_hash = ?", hash).
		First(&attempt).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}

// Most recent attempts for one address, newest first
func (r *ClaimAttemptRepository) FindByAddress(ctx context.Context, address string, limit int) ([]models.ClaimAttempt, error) {
	var attempts []models.ClaimAttempt

	err := r.db.DB.WithContext(ctx).
		Where("address = ?", address).
		Order("created_at DESC").
		Limit(limit).
		Find(&attempts).Error

	return attempts, err
}

// Counts attempts per outcome in a time range
func (r *ClaimAttemptRepository) CountByOutcome(ctx context.Context, from, to time.Time) (map[models.Outcome]int64, error) {
	rows, err := r.db.DB.WithContext(ctx).
		Model(&models.ClaimAttempt{}).
		Select("outcome, COUNT(*) as count").
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Group("outcome").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Outcome]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[models.Outcome(outcome)] = count
	}

	return counts, rows.Err()
}

// Sums the amount of successful attempts
func (r *ClaimAttemptRepository) TotalDisbursed(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total sql.NullFloat64

	err := r.db.DB.WithContext(ctx).
		Model(&models.ClaimAttempt{}).
		Select("SUM(CAST(amount AS DECIMAL))").
		Where("outcome = ? AND created_at BETWEEN ? AND ?", models.OutcomeSuccess, from.UTC(), to.UTC()).
		Scan(&total).Error
	if err != nil || !total.Valid {
		return decimal.Zero, err
	}

	return decimal.NewFromFloat(total.Float64), nil
}

func (r *ClaimAttemptRepository) CountDistinctAddresses(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.ClaimAttempt{}).
		Where("outcome = ? AND created_at BETWEEN ? AND ?", models.OutcomeSuccess, from.UTC(), to.UTC()).
		Distinct("address").
		Count(&count).Error

	return count, err
}

// Average end-to-end claim time in milliseconds
func (r *ClaimAttemptRepository) GetAverageDuration(ctx context.Context, from, to time.Time) (float64, error) {
	var avg sql.NullFloat64

	err := r.db.DB.WithContext(ctx).
		Model(&models.ClaimAttempt{}).
		Select("AVG(duration_ms)").
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Scan(&avg).Error

	return avg.Float64, err
}

// Returns the fields the time series needs, oldest first
func (r *ClaimAttemptRepository) FindInRange(ctx context.Context, from, to time.Time, limit int) ([]models.ClaimAttempt, error) {
	var attempts []models.ClaimAttempt

	err := r.db.DB.WithContext(ctx).
		Select("created_at", "outcome", "duration_ms").
		Where("created_at BETWEEN ? AND ?", from.UTC(), to.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error

	return attempts, err
}

// Deletes attempts older than before
func (r *ClaimAttemptRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Delete(&models.ClaimAttempt{})

	return result.RowsAffected, result.Error
}
