package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome classifies how a claim attempt ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeValidationError   Outcome = "validation_error"
	OutcomeCaptchaFailed     Outcome = "captcha_failed"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeTreasuryExhausted Outcome = "treasury_exhausted"
	OutcomeUpstreamFailure   Outcome = "upstream_failure"
	OutcomeInternalError     Outcome = "internal_error"
)

// ClaimAttempt is one row per claim request that reached the orchestrator.
type ClaimAttempt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Address    string    `gorm:"index;not null" json:"address"`
	ClientIP   string    `gorm:"index" json:"client_ip"`
	Outcome    Outcome   `gorm:"index;not null" json:"outcome"`
	TxHash     string    `gorm:"index" json:"tx_hash,omitempty"`
	Amount     string    `json:"amount,omitempty"`
	Nonce      uint64    `json:"nonce,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (a *ClaimAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (ClaimAttempt) TableName() string {
	return "claim_attempts"
}
