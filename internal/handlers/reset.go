package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"idguard/api/internal/repository"
)

type requestResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestReset always answers 202: whether the email maps to an account
// is never observable from outside.
func (h HandlerSet) RequestReset(c *gin.Context) {
	var req requestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, _, err := h.resets.Issue(c.Request.Context(), req.Email); err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			h.log.Error().Err(err).Msg("issue reset failed")
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type redeemResetRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8"`
}

func (h HandlerSet) RedeemReset(c *gin.Context) {
	var req redeemResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.resets.Redeem(c.Request.Context(), req.Token, req.NewPassword, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		h.sendTokenError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
