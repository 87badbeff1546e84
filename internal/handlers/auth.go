package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"idguard/api/internal/models"
	"idguard/api/internal/repository"
	"idguard/api/internal/service"
)

type registerRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"displayName" binding:"required"`
	TenantID    string `json:"tenantId"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Status:      string(u.Status),
	}
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		TenantID:    req.TenantID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"deviceId"`
}

type authResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	SessionID    string `json:"sessionId"`
	DeviceID     string `json:"deviceId"`
	ExpiresAt    string `json:"expiresAt"`
}

func sendAuthResponse(c *gin.Context, tokens service.SessionTokens) {
	c.JSON(http.StatusOK, authResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		SessionID:    tokens.Session.ID,
		DeviceID:     tokens.Session.DeviceID,
		ExpiresAt:    tokens.Session.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		DeviceID:  req.DeviceID,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.sendAuthError(c, err)
		return
	}

	sendAuthResponse(c, tokens)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.sendAuthError(c, err)
		return
	}

	sendAuthResponse(c, tokens)
}

func (h HandlerSet) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		h.sendAuthError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	user := currentUser(c)

	sessions, err := h.sessions.ListActive(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, gin.H{
			"id":         s.ID,
			"deviceId":   s.DeviceID,
			"ipAddress":  s.IPAddress,
			"userAgent":  s.UserAgent,
			"lastUsedAt": s.LastUsedAt,
			"expiresAt":  s.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h HandlerSet) RevokeSession(c *gin.Context) {
	user := currentUser(c)
	sessionID := c.Param("sessionId")

	target, err := h.store.Sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil || target.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}

	actor := service.Actor{UserID: user.ID, IPAddress: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if err := h.sessions.Revoke(c.Request.Context(), sessionID, "revoked by owner", actor); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// sendAuthError maps core outcomes onto responses without revealing
// whether an account exists: unknown email and wrong password are the
// same 401.
func (h HandlerSet) sendAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrSessionInvalid),
		errors.Is(err, service.ErrSessionRevoked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, service.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session_expired"})
	case errors.Is(err, service.ErrUserSuspended):
		c.JSON(http.StatusForbidden, gin.H{"error": "account_suspended"})
	case errors.Is(err, service.ErrUserLocked):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "account_locked"})
	default:
		h.log.Error().Err(err).Msg("auth operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func currentUser(c *gin.Context) models.User {
	user, _ := c.MustGet("current_user").(models.User)
	return user
}
