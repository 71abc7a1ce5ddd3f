package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/models"
	"github.com/aman-churiwal/octra-faucet/internal/repository"
	"github.com/shopspring/decimal"
)

const maxSeriesRows = 50000

type AnalyticsService struct {
	repository *repository.ClaimAttemptRepository
}

func NewAnalyticsService(repo *repository.ClaimAttemptRepository) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

// Holds claim analytics for a time range
type AnalyticsSummary struct {
	From              time.Time                `json:"from"`
	To                time.Time                `json:"to"`
	TotalAttempts     int64                    `json:"total_attempts"`
	Outcomes          map[models.Outcome]int64 `json:"outcomes"`
	SuccessRate       float64                  `json:"success_rate"`
	TotalDisbursed    decimal.Decimal          `json:"total_disbursed"`
	DistinctAddresses int64                    `json:"distinct_addresses"`
	AvgDurationMs     float64                  `json:"avg_duration_ms"`
}

// One hour bucket of claim attempts
type TimeSeriesData struct {
	Hour          time.Time `json:"hour"`
	Count         int64     `json:"count"`
	Successes     int64     `json:"successes"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
}

func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{
		From:           from,
		To:             to,
		Outcomes:       map[models.Outcome]int64{},
		TotalDisbursed: decimal.Zero,
	}

	outcomes, err := s.repository.CountByOutcome(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for outcome, count := range outcomes {
		summary.Outcomes[outcome] = count
		summary.TotalAttempts += count
	}

	if summary.TotalAttempts == 0 {
		return summary, nil
	}

	summary.SuccessRate = float64(outcomes[models.OutcomeSuccess]) / float64(summary.TotalAttempts) * 100

	if summary.TotalDisbursed, err = s.repository.TotalDisbursed(ctx, from, to); err != nil {
		return nil, err
	}
	if summary.DistinctAddresses, err = s.repository.CountDistinctAddresses(ctx, from, to); err != nil {
		return nil, err
	}
	if summary.AvgDurationMs, err = s.repository.GetAverageDuration(ctx, from, to); err != nil {
		return nil, err
	}

	return summary, nil
}

// Buckets attempts by hour. Hours with no attempts are left out.
func (s *AnalyticsService) GetTimeSeries(ctx context.Context, from, to time.Time) ([]TimeSeriesData, error) {
	rows, err := s.repository.FindInRange(ctx, from, to, maxSeriesRows)
	if err != nil {
		return nil, err
	}

	series := make([]TimeSeriesData, 0)
	index := make(map[time.Time]int)
	totals := make(map[time.Time]int64)

	for _, row := range rows {
		hour := row.CreatedAt.UTC().Truncate(time.Hour)
		i, ok := index[hour]
		if !ok {
			i = len(series)
			index[hour] = i
			series = append(series, TimeSeriesData{Hour: hour})
		}
		series[i].Count++
		if row.Outcome == models.OutcomeSuccess {
			series[i].Successes++
		}
		totals[hour] += row.DurationMs
	}

	for i := range series {
		series[i].AvgDurationMs = float64(totals[series[i].Hour]) / float64(series[i].Count)
	}

	return series, nil
}

func (s *AnalyticsService) FindClaim(ctx context.Context, hash string) (*models.ClaimAttempt, error) {
	return s.repository.FindByTxHash(ctx, hash)
}

func (s *AnalyticsService) ClaimsForAddress(ctx context.Context, address string, limit int) ([]models.ClaimAttempt, error) {
	return s.repository.FindByAddress(ctx, address, limit)
}
