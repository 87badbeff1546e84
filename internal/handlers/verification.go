package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"idguard/api/internal/models"
	"idguard/api/internal/service"
)

type issueVerificationRequest struct {
	Purpose string `json:"purpose" binding:"required"`
	Payload string `json:"payload"`
}

func (h HandlerSet) IssueVerification(c *gin.Context) {
	var req issueVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	purpose, err := models.ParseVerificationPurpose(req.Purpose)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_purpose"})
		return
	}

	user := currentUser(c)
	issued, err := h.verifications.Issue(c.Request.Context(), service.IssueVerificationInput{
		UserID:  user.ID,
		Purpose: purpose,
		Payload: req.Payload,
		Actor: service.Actor{
			UserID:    user.ID,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("issue verification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	// The proof code travels only through the notification channel.
	c.JSON(http.StatusCreated, gin.H{
		"challenge": issued.Challenge,
		"expiresAt": issued.Token.ExpiresAt,
	})
}

type verifyRequest struct {
	Challenge string `json:"challenge" binding:"required"`
	Proof     string `json:"proof" binding:"required"`
}

func (h HandlerSet) VerifyToken(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := h.verifications.Verify(c.Request.Context(), req.Challenge, req.Proof)
	if err != nil {
		h.sendTokenError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payload": payload})
}

func (h HandlerSet) sendTokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, service.ErrProofMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
	case errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenUsed):
		c.JSON(http.StatusGone, gin.H{"error": "token_gone"})
	case errors.Is(err, service.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_attempts"})
	default:
		h.log.Error().Err(err).Msg("token operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
