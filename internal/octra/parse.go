package octra

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var plainTextAccepted = regexp.MustCompile(`^OK\s+([0-9a-fA-F]{64})$`)

// ParseAddressInfo reads balance (string or number) and nonce (integer) from
// an address response, defaulting absent fields to zero.
func ParseAddressInfo(address string, body []byte) (AddressInfo, error) {
	info := AddressInfo{Address: address, Balance: decimal.Zero}

	if !gjson.ValidBytes(body) {
		return info, fmt.Errorf("%w: malformed address response", ErrNodeUnavailable)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return info, fmt.Errorf("%w: address response is not an object", ErrNodeUnavailable)
	}

	balance := root.Get("balance")
	switch balance.Type {
	case gjson.Null:
	case gjson.String, gjson.Number:
		raw := balance.Str
		if balance.Type == gjson.Number {
			raw = balance.Raw
		}
		if strings.TrimSpace(raw) != "" {
			v, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return info, fmt.Errorf("%w: bad balance %q", ErrNodeUnavailable, raw)
			}
			info.Balance = v
		}
	default:
		return info, fmt.Errorf("%w: bad balance type %s", ErrNodeUnavailable, balance.Type)
	}

	nonce := root.Get("nonce")
	switch nonce.Type {
	case gjson.Null:
	case gjson.Number, gjson.String:
		raw := nonce.Str
		if nonce.Type == gjson.Number {
			raw = nonce.Raw
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return info, fmt.Errorf("%w: bad nonce %q", ErrNodeUnavailable, raw)
		}
		info.Nonce = v
	default:
		return info, fmt.Errorf("%w: bad nonce type %s", ErrNodeUnavailable, nonce.Type)
	}

	return info, nil
}

// ParseSubmitResponse extracts a transaction hash from a send-tx response,
// trying in order: JSON {status:"accepted", tx_hash}, plain "OK <hash>",
// then the raw body on HTTP 200.
func ParseSubmitResponse(statusCode int, body []byte) SubmitResult {
	text := strings.TrimSpace(string(body))

	if statusCode != http.StatusOK {
		if text == "" {
			text = fmt.Sprintf("node returned HTTP %d", statusCode)
		}
		return SubmitResult{Error: text}
	}

	if gjson.Valid(text) {
		root := gjson.Parse(text)
		if root.IsObject() {
			hash := root.Get("tx_hash").String()
			if root.Get("status").String() == "accepted" && hash != "" {
				return SubmitResult{Success: true, Hash: hash}
			}
			return SubmitResult{Error: submitError(root, text)}
		}
	}

	if m := plainTextAccepted.FindStringSubmatch(text); m != nil {
		return SubmitResult{Success: true, Hash: m[1]}
	}

	// Compatibility shim for nodes that answer 200 with a bare hash.
	if text == "" {
		return SubmitResult{Error: "node returned an empty response"}
	}
	return SubmitResult{Success: true, Hash: text, Fallback: true}
}

func submitError(root gjson.Result, raw string) string {
	for _, field := range []string{"error", "message", "reason"} {
		if v := root.Get(field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return raw
}
