package octra

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNodeUnavailable means a balance/nonce read or a submission could not
// reach the node or got a response that could not be understood.
var ErrNodeUnavailable = errors.New("octra node unavailable")

// AddressInfo is the parsed result of GET /address/:addr. Missing fields are
// zero; callers never see the raw, loosely typed node response.
type AddressInfo struct {
	Address string
	Balance decimal.Decimal
	Nonce   uint64
}

// SubmitResult is the outcome of POST /send-tx.
type SubmitResult struct {
	Success bool
	Hash    string
	Error   string
	// Fallback is set when the hash was taken from an unrecognised 200 body.
	Fallback bool
}
