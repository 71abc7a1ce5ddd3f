package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/octra-faucet/internal/metrics"
	"github.com/aman-churiwal/octra-faucet/internal/ratelimit"
	"github.com/aman-churiwal/octra-faucet/internal/repository"
	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/aman-churiwal/octra-faucet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "kaboom")
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	w = serve(r, req)
	assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
}

func TestLoggerLevelsByStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/err", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, p := range []string{"/ok", "/bad", "/err"} {
		serve(r, httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.Equal(t, "/err", entries[2].ContextMap()["path"])
}

func TestCORS(t *testing.T) {
	preflight := func(r *gin.Engine, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/claim", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		return serve(r, req)
	}

	restricted := gin.New()
	restricted.Use(CORS([]string{"https://faucet.octra.network"}))
	restricted.POST("/claim", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := preflight(restricted, "https://faucet.octra.network")
	assert.Equal(t, "https://faucet.octra.network", w.Header().Get("Access-Control-Allow-Origin"))

	w = preflight(restricted, "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	open := gin.New()
	open.Use(CORS(nil))
	open.POST("/claim", func(c *gin.Context) { c.Status(http.StatusOK) })

	w = preflight(open, "https://anything.example")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func newLimiter(t *testing.T, limit int) (ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewLimiter(client, ratelimit.AlgorithmFixedWindow, limit, time.Minute)
	require.NoError(t, err)
	return limiter, mr
}

func TestRateLimitPerClientIP(t *testing.T) {
	limiter, _ := newLimiter(t, 2)

	r := gin.New()
	r.Use(RateLimit(limiter, zap.NewNop()))
	r.GET("/eligibility", func(c *gin.Context) { c.Status(http.StatusOK) })

	from := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/eligibility", nil)
		req.RemoteAddr = ip + ":4000"
		return serve(r, req)
	}

	w := from("192.0.2.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, from("192.0.2.1").Code)

	w = from("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)
	assert.Contains(t, w.Body.String(), "rate_limited")

	assert.Equal(t, http.StatusOK, from("192.0.2.2").Code)
}

func TestRateLimitStoreDownRejects(t *testing.T) {
	limiter, mr := newLimiter(t, 5)
	mr.Close()

	r := gin.New()
	r.Use(RateLimit(limiter, zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireAuth(t *testing.T) {
	db, err := storage.Open(sqlite.Open(":memory:"), storage.PostgresOptions{
		MaxOpenConns: 1,
		LogLevel:     logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	auth := service.NewAuthService(repository.NewUserRepository(db), "secret", 1)
	ctx := context.Background()
	_, err = auth.EnsureAdmin(ctx, "ops@octra.test", "hunter22")
	require.NoError(t, err)
	token, err := auth.Login(ctx, "ops@octra.test", "hunter22")
	require.NoError(t, err)

	other := service.NewAuthService(repository.NewUserRepository(db), "other-secret", 1)
	forged, err := other.Login(ctx, "ops@octra.test", "hunter22")
	require.NoError(t, err)

	r := gin.New()
	r.Use(RequireAuth(auth))
	r.GET("/admin/status", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("email")) })

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return serve(r, req)
	}

	w := call("Bearer " + token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@octra.test", w.Body.String())

	for _, header := range []string{"", "Token " + token, "Bearer", "Bearer " + forged} {
		assert.Equal(t, http.StatusUnauthorized, call(header).Code, header)
	}
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	matched := metrics.HTTPRequests.WithLabelValues("/eligibility/:address", http.MethodGet, "200")
	unmatched := metrics.HTTPRequests.WithLabelValues("unmatched", http.MethodGet, "404")
	beforeMatched := testutil.ToFloat64(matched)
	beforeUnmatched := testutil.ToFloat64(unmatched)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/eligibility/:address", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/eligibility/octabc", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, beforeMatched+1, testutil.ToFloat64(matched))
	assert.Equal(t, beforeUnmatched+1, testutil.ToFloat64(unmatched))
}
