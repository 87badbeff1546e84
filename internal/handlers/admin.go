package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"idguard/api/internal/models"
	"idguard/api/internal/repository"
	"idguard/api/internal/security"
	"idguard/api/internal/service"
)

type suspendRequest struct {
	UserID       string `json:"userId" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
	Duration     string `json:"duration" binding:"required"`
	DurationDays int    `json:"durationDays"`
	CanAppeal    *bool  `json:"canAppeal"`
}

func (h HandlerSet) Suspend(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	duration, err := models.ParseSuspensionDuration(req.Duration)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_duration"})
		return
	}

	canAppeal := true
	if req.CanAppeal != nil {
		canAppeal = *req.CanAppeal
	}

	admin := currentUser(c)
	susp, err := h.suspensions.Suspend(c.Request.Context(), service.SuspendInput{
		UserID:        req.UserID,
		SuspendedByID: admin.ID,
		Reason:        req.Reason,
		Duration:      duration,
		DurationDays:  req.DurationDays,
		CanAppeal:     canAppeal,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.GetHeader("User-Agent"),
	})
	if err != nil {
		h.sendSuspensionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, suspensionResponse(susp))
}

type fileAppealRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// FileAppeal authenticates with credentials in the body: a suspended
// user has no live session to present.
func (h HandlerSet) FileAppeal(c *gin.Context) {
	var req fileAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	user, err := h.store.Users.FindByEmail(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	ok, err := security.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}

	suspensionID := c.Param("id")
	susp, err := h.suspensions.GetByID(c.Request.Context(), suspensionID)
	if err != nil || susp.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "suspension_not_found"})
		return
	}

	filed, err := h.suspensions.FileAppeal(c.Request.Context(), suspensionID, req.Reason, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.sendSuspensionError(c, err)
		return
	}

	c.JSON(http.StatusOK, suspensionResponse(filed))
}

type reviewAppealRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved denied"`
}

func (h HandlerSet) ReviewAppeal(c *gin.Context) {
	var req reviewAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	admin := currentUser(c)
	susp, err := h.suspensions.ReviewAppeal(c.Request.Context(), c.Param("id"), admin.ID, req.Decision == "approved", c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		h.sendSuspensionError(c, err)
		return
	}

	c.JSON(http.StatusOK, suspensionResponse(susp))
}

type liftRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h HandlerSet) LiftSuspension(c *gin.Context) {
	var req liftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	admin := currentUser(c)
	if err := h.suspensions.ManualLift(c.Request.Context(), c.Param("id"), admin.ID, req.Reason, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		h.sendSuspensionError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ListSuspensions(c *gin.Context) {
	history, err := h.suspensions.HistoryForUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	items := make([]gin.H, 0, len(history))
	for _, s := range history {
		items = append(items, suspensionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h HandlerSet) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("perPage", "50"))
	offset := 0
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 1 {
		offset = (page - 1) * limit
	}

	entries, err := h.audit.ListForUser(c.Request.Context(), c.Param("userId"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		items = append(items, gin.H{
			"id":          e.ID,
			"action":      e.Action,
			"performedBy": e.PerformedByID,
			"targetUser":  e.TargetUserID,
			"details":     e.Details,
			"ipAddress":   e.IPAddress,
			"createdAt":   e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h HandlerSet) RevokeUserSessions(c *gin.Context) {
	admin := currentUser(c)
	actor := service.Actor{UserID: admin.ID, IPAddress: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}

	count, err := h.sessions.RevokeAllForUser(c.Request.Context(), c.Param("userId"), "revoked by admin", actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": count})
}

func (h HandlerSet) sendSuspensionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrSuspensionNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, service.ErrAlreadySuspended):
		c.JSON(http.StatusConflict, gin.H{"error": "already_suspended"})
	case errors.Is(err, service.ErrNotActive),
		errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrAppealAlreadyFiled),
		errors.Is(err, service.ErrAppealNotFiled):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state"})
	case errors.Is(err, service.ErrAppealNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "appeal_not_allowed"})
	case errors.Is(err, service.ErrAppealWindowClosed):
		c.JSON(http.StatusGone, gin.H{"error": "appeal_window_closed"})
	default:
		h.log.Error().Err(err).Msg("suspension operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func suspensionResponse(s models.Suspension) gin.H {
	return gin.H{
		"id":             s.ID,
		"userId":         s.UserID,
		"reason":         s.Reason,
		"duration":       s.Duration,
		"durationDays":   s.DurationDays,
		"suspendedUntil": s.SuspendedUntil,
		"canAppeal":      s.CanAppeal,
		"appealDeadline": s.AppealDeadline,
		"hasAppealed":    s.HasAppealed,
		"appealStatus":   s.AppealStatus,
		"active":         s.Active,
		"createdAt":      s.CreatedAt,
	}
}
