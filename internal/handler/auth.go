package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/octra-faucet/internal/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service     *service.AuthService
	expiryHours int
}

func NewAuthHandler(service *service.AuthService, expiryHours int) *AuthHandler {
	return &AuthHandler{service: service, expiryHours: expiryHours}
}

// Handles POST /admin/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": fieldErrors(err)})
		return
	}

	token, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidLogin) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": h.expiryHours * 3600,
	})
}
