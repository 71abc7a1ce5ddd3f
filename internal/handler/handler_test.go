package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/octra-faucet/internal/octra"
	"github.com/aman-churiwal/octra-faucet/internal/ratelimit"
	"github.com/aman-churiwal/octra-faucet/internal/repository"
	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/aman-churiwal/octra-faucet/internal/stats"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/aman-churiwal/octra-faucet/internal/transaction"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

const (
	treasuryAddr = "oct11111111111111111111111111111111111111111111"
	userAddr     = "oct9gTHVFW4f1LnuAy6btBWowA6QYCmPcGXmbKbNiuVSzFZ"
)

var txHash = strings.Repeat("cd", 32)

type stubNode struct {
	info      octra.AddressInfo
	infoErr   error
	submit    octra.SubmitResult
	submitErr error
}

func (n *stubNode) FetchAddressInfo(context.Context) (octra.AddressInfo, error) {
	return n.info, n.infoErr
}

func (n *stubNode) Submit(context.Context, *transaction.Transaction) (octra.SubmitResult, error) {
	return n.submit, n.submitErr
}

type stubCaptcha bool

func (c stubCaptcha) Verify(context.Context, string, string) bool { return bool(c) }

type faucetFixture struct {
	router *gin.Engine
	mr     *miniredis.Miniredis
	node   *stubNode
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newFaucetFixture(t *testing.T, captchaOK bool) *faucetFixture {
	t.Helper()
	require.NoError(t, RegisterValidators())

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := transaction.NewSigner(
		base64.StdEncoding.EncodeToString(priv.Seed()),
		base64.StdEncoding.EncodeToString(pub),
	)
	require.NoError(t, err)

	node := &stubNode{
		info:   octra.AddressInfo{Address: treasuryAddr, Balance: decimal.NewFromInt(500), Nonce: 3},
		submit: octra.SubmitResult{Success: true, Hash: txHash},
	}

	svc := service.NewFaucetService(service.FaucetConfig{
		Treasury:        treasuryAddr,
		Amount:          decimal.NewFromInt(10),
		AddressCooldown: 24 * time.Hour,
		IPCooldown:      time.Hour,
	}, node, signer, stubCaptcha(captchaOK), ratelimit.NewCooldownStore(client), stats.NewStore(client), nil, zap.NewNop())

	h := NewFaucetHandler(svc)
	router := gin.New()
	router.POST("/claim", h.Claim)
	router.GET("/eligibility/:address", h.Eligibility)
	router.GET("/stats", h.Stats)

	return &faucetFixture{router: router, mr: mr, node: node}
}

func (f *faucetFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:5555"

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestClaimHandlerSuccessThenRateLimited(t *testing.T) {
	f := newFaucetFixture(t, true)

	w := f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, txHash, body["txHash"])
	assert.Equal(t, "10", body["amount"])
	assert.NotContains(t, body, "error")

	w = f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body = decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "rate_limited", body["code"])
	assert.NotZero(t, body["nextEligibleAt"])

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 24*3600, retry, 5)
}

func TestClaimHandlerValidation(t *testing.T) {
	f := newFaucetFixture(t, true)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"bad address", gin.H{"address": "0xabc", "captchaToken": "tok"}, "address"},
		{"missing address", gin.H{"captchaToken": "tok"}, "address"},
		{"missing captcha", gin.H{"address": userAddr}, "captchaToken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/claim", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			body := decode(t, w)
			assert.Equal(t, "validation_error", body["code"])
			details, ok := body["details"].([]any)
			require.True(t, ok, "details missing: %s", w.Body.String())
			require.NotEmpty(t, details)
			assert.Equal(t, tt.field, details[0].(map[string]any)["field"])
		})
	}

	w := f.do(http.MethodPost, "/claim", "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClaimHandlerFailureStatuses(t *testing.T) {
	t.Run("captcha", func(t *testing.T) {
		f := newFaucetFixture(t, false)
		w := f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "captcha_failed", decode(t, w)["code"])
	})

	t.Run("treasury exhausted", func(t *testing.T) {
		f := newFaucetFixture(t, true)
		f.node.info.Balance = decimal.NewFromInt(5)
		w := f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "treasury_exhausted", decode(t, w)["code"])
	})

	t.Run("node rejects", func(t *testing.T) {
		f := newFaucetFixture(t, true)
		f.node.submit = octra.SubmitResult{Error: "nonce too low"}
		w := f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode(t, w)
		assert.Equal(t, "upstream_failure", body["code"])
		assert.Equal(t, "nonce too low", body["error"])
	})

	t.Run("node down", func(t *testing.T) {
		f := newFaucetFixture(t, true)
		f.node.infoErr = octra.ErrNodeUnavailable
		w := f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "upstream_failure", decode(t, w)["code"])
	})

	t.Run("store down", func(t *testing.T) {
		f := newFaucetFixture(t, true)
		f.mr.Close()
		w := f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal_error", decode(t, w)["code"])
		assert.Empty(t, w.Header().Get("Retry-After"))
	})
}

func TestEligibilityHandler(t *testing.T) {
	f := newFaucetFixture(t, true)

	w := f.do(http.MethodGet, "/eligibility/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/eligibility/"+userAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["eligible"])

	f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})

	w = f.do(http.MethodGet, "/eligibility/"+userAddr, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["eligible"])
	assert.NotEmpty(t, body["reason"])
	assert.NotZero(t, body["nextClaimTime"])

	f.mr.Close()
	w = f.do(http.MethodGet, "/eligibility/"+userAddr, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatsHandler(t *testing.T) {
	f := newFaucetFixture(t, true)
	f.do(http.MethodPost, "/claim", gin.H{"address": userAddr, "captchaToken": "tok"})

	w := f.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "10", body["totalClaimed"])
	assert.Equal(t, float64(1), body["totalUsers"])
	assert.Equal(t, float64(1), body["totalTransactions"])
	assert.Equal(t, "500", body["faucetBalance"])
	assert.Equal(t, "10", body["disbursementAmount"])
	assert.Equal(t, treasuryAddr, body["faucetAddress"])

	f.node.infoErr = errors.New("down")
	w = f.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", decode(t, w)["faucetBalance"])
}

func TestLoginHandler(t *testing.T) {
	require.NoError(t, RegisterValidators())

	db, err := storage.Open(sqlite.Open(":memory:"), storage.PostgresOptions{
		MaxOpenConns: 1,
		LogLevel:     logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	auth := service.NewAuthService(repository.NewUserRepository(db), "secret", 2)
	_, err = auth.EnsureAdmin(context.Background(), "ops@octra.test", "hunter22")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/admin/login", NewAuthHandler(auth, 2).Login)

	login := func(body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		req := httptest.NewRequest(http.MethodPost, "/admin/login", &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := login(gin.H{"email": "ops@octra.test", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(7200), body["expires_in"])
	token, _ := body["token"].(string)
	_, err = auth.ValidateToken(token)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, login(gin.H{"email": "ops@octra.test", "password": "wrong"}).Code)
	assert.Equal(t, http.StatusUnauthorized, login(gin.H{"email": "nobody@octra.test", "password": "hunter22"}).Code)
	assert.Equal(t, http.StatusBadRequest, login(gin.H{"email": "not-an-email", "password": "x"}).Code)
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	parse := func(query string) (time.Time, time.Time, error) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/admin/analytics?"+query, nil)
		return parseTimeRange(c, now)
	}

	from, to, err := parse("")
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-24*time.Hour), from)

	from, to, err = parse("from=2024-02-28T00:00:00Z&to=1709251200")
	require.NoError(t, err)
	assert.True(t, from.Equal(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(1709251200), to.Unix())

	_, _, err = parse("from=yesterday")
	assert.Error(t, err)

	_, _, err = parse("from=2024-03-01T12:00:00Z&to=2024-03-01T11:00:00Z")
	assert.Error(t, err)

	_, _, err = parse("from=2024-01-01T00:00:00Z&to=2024-03-01T00:00:00Z")
	assert.Error(t, err)
}

func TestRetryAfterIsAtLeastOneSecond(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, 1, retryAfter(now, now))
	assert.Equal(t, 1, retryAfter(now.Add(-time.Minute), now))
	assert.Equal(t, 90, retryAfter(now.Add(90*time.Second), now))
}
