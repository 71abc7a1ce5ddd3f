package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "octra_faucet"

var (
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ClaimDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "End-to-end claim latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Node RPC latency by operation and result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	TreasuryBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "treasury_balance",
			Help:      "Last observed faucet wallet balance in tokens.",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "0 closed, 1 open, 2 half-open.",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Claim audit rows dropped because the buffer was full.",
		},
	)
)

func ObserveRPC(operation string, err error, d time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		result = "circuit_open"
	default:
		result = "error"
	}
	RPCDuration.WithLabelValues(operation, result).Observe(d.Seconds())
}

func ObserveClaim(outcome string, d time.Duration) {
	ClaimsTotal.WithLabelValues(outcome).Inc()
	ClaimDuration.Observe(d.Seconds())
}

func ObserveHTTP(route, method string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// BreakerStateChanged is shaped to plug into circuitbreaker.Config.OnStateChange.
func BreakerStateChanged(name string, _, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(to.Gauge())
}
