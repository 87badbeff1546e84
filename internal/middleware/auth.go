package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"idguard/api/internal/config"
	"idguard/api/internal/models"
	"idguard/api/internal/repository"
	"idguard/api/internal/security"
)

// Auth validates the bearer access token and the session behind it.
// A revoked or expired session kills the access token immediately,
// regardless of the JWT's own expiry.
func Auth(cfg *config.AppConfig, store *repository.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := security.ParseAccessToken(tokenStr, cfg.Security.JWTAccessSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		session, err := store.Sessions.GetByID(c.Request.Context(), claims.SessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_not_found"})
			return
		}

		if session.UserID != claims.UserID || session.DeviceID != claims.DeviceID {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_mismatch"})
			return
		}
		if !session.Live(time.Now().UTC()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_dead"})
			return
		}

		user, err := store.Users.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_not_found"})
			return
		}

		if user.Status == models.UserStatusSuspended {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_suspended"})
			return
		}
		if user.Status == models.UserStatusDeleted {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_inactive"})
			return
		}

		_ = store.Sessions.Touch(c.Request.Context(), session.ID, time.Now().UTC(), c.ClientIP(), c.GetHeader("User-Agent"))

		c.Set("access_claims", *claims)
		c.Set("current_user", user)

		c.Next()
	}
}
