package service

import (
	"errors"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/models"
)

var (
	ErrInvalidAddress  = errors.New("invalid Octra address")
	ErrInvalidLogin    = errors.New("invalid credentials")
	ErrUserExists      = errors.New("user with this email already exists")
	ErrCooldownUnknown = errors.New("cooldown state unavailable")
)

// ClaimError is a claim that ended without a disbursement. Code is one of the
// models.Outcome error classes and decides the HTTP status.
type ClaimError struct {
	Code           models.Outcome
	Message        string
	NextEligibleAt time.Time
	Err            error
}

func (e *ClaimError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}

// Result converts the error into the client-facing response body. The
// wrapped cause is never included.
func (e *ClaimError) Result() *ClaimResult {
	res := &ClaimResult{
		Success: false,
		Error:   e.Message,
		Code:    e.Code,
	}
	if !e.NextEligibleAt.IsZero() {
		res.NextEligibleAt = e.NextEligibleAt.Unix()
	}
	return res
}

func newClaimError(code models.Outcome, message string, err error) *ClaimError {
	return &ClaimError{Code: code, Message: message, Err: err}
}
