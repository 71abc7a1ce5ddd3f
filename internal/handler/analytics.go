package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/octra"
	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/gin-gonic/gin"
)

const maxAnalyticsRange = 31 * 24 * time.Hour

type AnalyticsHandler struct {
	service *service.AnalyticsService
}

func NewAnalyticsHandler(service *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	from, to, err := parseTimeRange(c, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load analytics"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/analytics/timeseries
func (h *AnalyticsHandler) GetTimeSeries(c *gin.Context) {
	from, to, err := parseTimeRange(c, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	series, err := h.service.GetTimeSeries(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load time series"})
		return
	}

	c.JSON(http.StatusOK, series)
}

// Handles GET /admin/claims?address=
func (h *AnalyticsHandler) ClaimsForAddress(c *gin.Context) {
	address := c.Query("address")
	if !octra.IsValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter must be an Octra address"})
		return
	}

	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	attempts, err := h.service.ClaimsForAddress(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load claims"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"claims": attempts, "limit": limit})
}

// Parses 'from' and 'to' as RFC3339 or unix seconds. Defaults to the last 24h.
func parseTimeRange(c *gin.Context, now time.Time) (time.Time, time.Time, error) {
	to := now
	from := to.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'from' time")
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'to' time")
		}
		to = t
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("'from' must be before 'to'")
	}
	if to.Sub(from) > maxAnalyticsRange {
		return time.Time{}, time.Time{}, errors.New("time range may not exceed 31 days")
	}

	return from, to, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0), nil
}
