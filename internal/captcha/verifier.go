package captcha

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Verifier checks a reCAPTCHA-style token against the provider's siteverify
// endpoint. Any failure to get a positive answer counts as a failed captcha.
type Verifier struct {
	secret    string
	verifyURL string
	timeout   time.Duration
	client    *resty.Client
	logger    *zap.Logger
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

func NewVerifier(secret, verifyURL string, timeout time.Duration, logger *zap.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Verifier{
		secret:    secret,
		verifyURL: verifyURL,
		timeout:   timeout,
		client:    resty.New(),
		logger:    logger.With(zap.String("component", "captcha")),
	}
}

// Verify reports whether the provider accepted token for the given client IP.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) bool {
	if v.secret == "" {
		v.logger.Error("captcha secret not configured, rejecting token")
		return false
	}
	if token == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	form := map[string]string{
		"secret":   v.secret,
		"response": token,
	}
	if remoteIP != "" {
		form["remoteip"] = remoteIP
	}

	var result siteverifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		ForceContentType("application/json").
		Post(v.verifyURL)
	if err != nil {
		v.logger.Warn("captcha verification request failed", zap.Error(err))
		return false
	}
	if resp.IsError() {
		v.logger.Warn("captcha provider returned error status", zap.Int("status", resp.StatusCode()))
		return false
	}
	if !result.Success {
		v.logger.Info("captcha rejected",
			zap.String("ip", remoteIP),
			zap.Strings("error_codes", result.ErrorCodes))
		return false
	}

	return true
}
