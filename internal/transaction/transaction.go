package transaction

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidKey     = errors.New("invalid signing key")
	ErrKeyMismatch    = errors.New("public key does not match private key")
	ErrBadSignature   = errors.New("signature verification failed")
	microUnitExponent = int32(6)
	// Amounts at or above this pay the higher operational unit.
	highTierThreshold = decimal.NewFromInt(1000)
)

const (
	OperationalUnitLow  = "1"
	OperationalUnitHigh = "3"
)

// Transaction is the wire format accepted by the node's send-tx endpoint.
// Field order is part of the signed message and must not change.
type Transaction struct {
	From      string  `json:"from"`
	To        string  `json:"to_"`
	Amount    string  `json:"amount"`
	Nonce     uint64  `json:"nonce"`
	OU        string  `json:"ou"`
	Timestamp float64 `json:"timestamp"`
	Signature string  `json:"signature,omitempty"`
	PublicKey string  `json:"public_key,omitempty"`
}

// unsigned mirrors Transaction without the signature fields; it is the
// canonical message that gets signed.
type unsigned struct {
	From      string  `json:"from"`
	To        string  `json:"to_"`
	Amount    string  `json:"amount"`
	Nonce     uint64  `json:"nonce"`
	OU        string  `json:"ou"`
	Timestamp float64 `json:"timestamp"`
}

// CanonicalMessage returns the exact bytes the signature covers.
func (t *Transaction) CanonicalMessage() ([]byte, error) {
	return json.Marshal(unsigned{
		From:      t.From,
		To:        t.To,
		Amount:    t.Amount,
		Nonce:     t.Nonce,
		OU:        t.OU,
		Timestamp: t.Timestamp,
	})
}

// MicroUnits converts a token amount to integer micro-units, rounding down.
func MicroUnits(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(microUnitExponent).Floor()
}

// OperationalUnit returns the cost tier the network applies to amount.
func OperationalUnit(amount decimal.Decimal) string {
	if amount.LessThan(highTierThreshold) {
		return OperationalUnitLow
	}
	return OperationalUnitHigh
}

type Signer struct {
	key       ed25519.PrivateKey
	publicKey ed25519.PublicKey
	now       func() time.Time
	jitter    func() float64
}

// NewSigner assembles the 64-byte signing key from a base64 seed and a base64
// public key. A 64-byte private key is accepted too; only its seed is used.
func NewSigner(privateKeyB64, publicKeyB64 string) (*Signer, error) {
	priv, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: private key is not base64: %v", ErrInvalidKey, err)
	}
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not base64: %v", ErrInvalidKey, err)
	}

	switch len(priv) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		priv = priv[:ed25519.SeedSize]
	default:
		return nil, fmt.Errorf("%w: private key must be %d or %d bytes, got %d",
			ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(priv))
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d",
			ErrInvalidKey, ed25519.PublicKeySize, len(pub))
	}

	derived := ed25519.NewKeyFromSeed(priv).Public().(ed25519.PublicKey)
	if !derived.Equal(ed25519.PublicKey(pub)) {
		return nil, ErrKeyMismatch
	}

	key := make(ed25519.PrivateKey, 0, ed25519.PrivateKeySize)
	key = append(key, priv...)
	key = append(key, pub...)

	return &Signer{
		key:       key,
		publicKey: ed25519.PublicKey(pub),
		now:       time.Now,
		jitter:    rand.Float64,
	}, nil
}

// WithClock replaces the wall clock used for transaction timestamps.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Build assembles and signs a transfer of amount tokens from sender to recipient.
func (s *Signer) Build(sender, recipient string, amount decimal.Decimal, nonce uint64) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	// Sub-10ms jitter keeps rapid sequential sends from producing identical hashes.
	timestamp := float64(now.UnixNano())/float64(time.Second) + s.jitter()*0.01

	tx := &Transaction{
		From:      sender,
		To:        recipient,
		Amount:    MicroUnits(amount).String(),
		Nonce:     nonce,
		OU:        OperationalUnit(amount),
		Timestamp: timestamp,
	}

	msg, err := tx.CanonicalMessage()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}

	tx.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, msg))
	tx.PublicKey = s.PublicKeyBase64()

	return tx, nil
}

// Verify checks tx.Signature against tx.PublicKey over the canonical message.
func Verify(tx *Transaction) error {
	pub, err := base64.StdEncoding.DecodeString(tx.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key", ErrBadSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: bad signature encoding", ErrBadSignature)
	}

	msg, err := tx.CanonicalMessage()
	if err != nil {
		return err
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return ErrBadSignature
	}
	return nil
}
