package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/models"
	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/gin-gonic/gin"
)

type FaucetHandler struct {
	service *service.FaucetService
	now     func() time.Time
}

func NewFaucetHandler(service *service.FaucetService) *FaucetHandler {
	return &FaucetHandler{service: service, now: time.Now}
}

type claimRequest struct {
	Address      string `json:"address" binding:"required,octaddr"`
	CaptchaToken string `json:"captchaToken" binding:"required"`
}

type claimResponse struct {
	*service.ClaimResult
	Details []FieldError `json:"details,omitempty"`
}

var claimStatus = map[models.Outcome]int{
	models.OutcomeValidationError:   http.StatusBadRequest,
	models.OutcomeCaptchaFailed:     http.StatusBadRequest,
	models.OutcomeTreasuryExhausted: http.StatusBadRequest,
	models.OutcomeUpstreamFailure:   http.StatusBadRequest,
	models.OutcomeRateLimited:       http.StatusTooManyRequests,
	models.OutcomeInternalError:     http.StatusInternalServerError,
}

// Handles POST /claim
func (h *FaucetHandler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, claimResponse{
			ClaimResult: &service.ClaimResult{
				Error: "invalid request",
				Code:  models.OutcomeValidationError,
			},
			Details: fieldErrors(err),
		})
		return
	}

	result, err := h.service.Claim(c.Request.Context(), service.ClaimRequest{
		Address:      req.Address,
		CaptchaToken: req.CaptchaToken,
		ClientIP:     c.ClientIP(),
	})
	if err != nil {
		var ce *service.ClaimError
		if !errors.As(err, &ce) {
			c.JSON(http.StatusInternalServerError, claimResponse{ClaimResult: &service.ClaimResult{
				Error: "internal error",
				Code:  models.OutcomeInternalError,
			}})
			return
		}

		status, ok := claimStatus[ce.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status == http.StatusTooManyRequests && !ce.NextEligibleAt.IsZero() {
			c.Header("Retry-After", strconv.Itoa(retryAfter(ce.NextEligibleAt, h.now())))
		}
		c.JSON(status, claimResponse{ClaimResult: ce.Result()})
		return
	}

	c.JSON(http.StatusOK, claimResponse{ClaimResult: result})
}

// Handles GET /eligibility/:address
func (h *FaucetHandler) Eligibility(c *gin.Context) {
	elig, err := h.service.CheckEligibility(c.Request.Context(), c.Param("address"))
	if errors.Is(err, service.ErrInvalidAddress) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request",
			"details": []FieldError{{
				Field:   "address",
				Message: "must be an Octra address (oct followed by 44 base58 characters)",
			}},
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, elig)
}

// Handles GET /stats
func (h *FaucetHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetStats(c.Request.Context()))
}

func retryAfter(next, now time.Time) int {
	secs := int(next.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
