package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/circuitbreaker"
	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/aman-churiwal/octra-faucet/internal/stats"
	"github.com/aman-churiwal/octra-faucet/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const Version = "1.0.0"

// Pinger is satisfied by the Redis and Postgres handles.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handles health and operator endpoints
type SystemHandler struct {
	faucet    *service.FaucetService
	analytics *service.AnalyticsService
	stats     *stats.Store
	breaker   *circuitbreaker.CircuitBreaker
	pool      *upstream.Pool
	redis     Pinger
	database  Pinger
	logger    *zap.Logger
	started   time.Time
}

func NewSystemHandler(
	faucet *service.FaucetService,
	analytics *service.AnalyticsService,
	stats *stats.Store,
	breaker *circuitbreaker.CircuitBreaker,
	pool *upstream.Pool,
	redis Pinger,
	database Pinger,
	logger *zap.Logger,
) *SystemHandler {
	return &SystemHandler{
		faucet:    faucet,
		analytics: analytics,
		stats:     stats,
		breaker:   breaker,
		pool:      pool,
		redis:     redis,
		database:  database,
		logger:    logger.With(zap.String("component", "system")),
		started:   time.Now(),
	}
}

// Handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	redisHealthy := true
	if err := h.redis.Ping(ctx); err != nil {
		redisHealthy = false
		h.logger.Warn("redis health check failed", zap.Error(err))
	}

	dbHealthy := true
	if err := h.database.Ping(ctx); err != nil {
		dbHealthy = false
		h.logger.Warn("database health check failed", zap.Error(err))
	}

	status := "ok"
	statusCode := http.StatusOK
	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "octra-faucet",
		"version":   Version,
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

// Handles GET /admin/status
func (h *SystemHandler) Status(c *gin.Context) {
	m := h.breaker.Metrics()

	treasury := gin.H{"address": h.faucet.TreasuryAddress()}
	if info, err := h.faucet.Treasury(c.Request.Context()); err != nil {
		treasury["error"] = "unavailable"
	} else {
		treasury["balance"] = info.Balance
		treasury["nonce"] = info.Nonce
	}

	nodes := make([]gin.H, 0)
	for _, st := range h.pool.Statuses() {
		nodes = append(nodes, gin.H{
			"url":           st.URL,
			"healthy":       st.IsHealthy,
			"failure_count": st.FailureCount,
			"last_check":    st.LastCheck,
			"last_success":  st.LastSuccess,
			"last_failure":  st.LastFailure,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"faucet":              "running",
		"version":             Version,
		"uptime":              time.Since(h.started).Seconds(),
		"treasury":            treasury,
		"disbursement_amount": h.faucet.Amount(),
		"circuit_breaker": gin.H{
			"name":              m.Name,
			"state":             m.State.String(),
			"failure_count":     m.FailureCount,
			"success_count":     m.SuccessCount,
			"last_failure_time": m.LastFailureTime,
			"last_state_change": m.LastStateChange,
		},
		"rpc": gin.H{
			"health": h.pool.OverallHealth().String(),
			"nodes":  nodes,
		},
		"timestamp": time.Now().Unix(),
	})
}

// Handles POST /admin/circuit-breaker/reset
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	from := h.breaker.State()
	h.breaker.Reset()

	h.logger.Info("circuit breaker reset by admin",
		zap.String("from", from.String()),
		zap.String("user", c.GetString("email")))

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"name":    h.breaker.Name(),
		"from":    from.String(),
		"state":   h.breaker.State().String(),
	})
}

// Handles GET /admin/claims/:hash. The audit table is checked first, then
// the Redis entry written at payout time.
func (h *SystemHandler) ClaimByHash(c *gin.Context) {
	hash := c.Param("hash")
	ctx := c.Request.Context()

	attempt, err := h.analytics.FindClaim(ctx, hash)
	if err != nil {
		h.logger.Warn("claim lookup in database failed", zap.String("hash", hash), zap.Error(err))
	}
	if attempt != nil {
		c.JSON(http.StatusOK, gin.H{"source": "database", "claim": attempt})
		return
	}

	d, found, err := h.stats.Disbursement(ctx, hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up claim"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Claim not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source": "redis",
		"claim": gin.H{
			"tx_hash":   d.TxHash,
			"address":   d.Address,
			"client_ip": d.ClientIP,
			"amount":    d.Amount,
			"nonce":     d.Nonce,
			"timestamp": d.Timestamp.Unix(),
		},
	})
}
