package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/middleware"
	"idguard/api/internal/models"
	"idguard/api/internal/notify"
	"idguard/api/internal/repository"
	"idguard/api/internal/service"
)

type HandlerSet struct {
	log           zerolog.Logger
	cfg           *config.AppConfig
	db            *pgxpool.Pool
	cache         *redis.Client
	store         *repository.Store
	auth          *service.AuthService
	sessions      *service.SessionService
	verifications *service.VerificationService
	resets        *service.ResetService
	suspensions   *service.SuspensionService
	audit         *service.AuditService
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, sender notify.Sender, cfg *config.AppConfig) HandlerSet {
	store := repository.NewStore(db)
	sessions := service.NewSessionService(store, cfg, log)
	auth := service.NewAuthService(store, sessions, cache, cfg, log)
	verifications := service.NewVerificationService(store, sender, cfg, log)
	resets := service.NewResetService(store, sender, cfg, log)
	suspensions := service.NewSuspensionService(store, cfg, log)
	audit := service.NewAuditService(store.Audit)

	return HandlerSet{
		log:           log,
		cfg:           cfg,
		db:            db,
		cache:         cache,
		store:         store,
		auth:          auth,
		sessions:      sessions,
		verifications: verifications,
		resets:        resets,
		suspensions:   suspensions,
		audit:         audit,
	}
}

// Store exposes the repository facade for components wired in main.
func (h HandlerSet) Store() *repository.Store {
	return h.store
}

func (h HandlerSet) SuspensionService() *service.SuspensionService {
	return h.suspensions
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.RegisterUser)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.POST("/verify", h.VerifyToken)
		auth.POST("/reset/request", h.RequestReset)
		auth.POST("/reset/redeem", h.RedeemReset)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.cfg, h.store))
		protected.GET("/me", h.Me)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:sessionId", h.RevokeSession)
		protected.POST("/verification", h.IssueVerification)

		// Suspended users have no live session, so appeals
		// authenticate with credentials in the request body.
		v1.POST("/suspensions/:id/appeal", h.FileAppeal)
	}

	admin := v1.Group("/admin")
	admin.Use(
		middleware.Auth(h.cfg, h.store),
		middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleSuperAdmin),
	)
	admin.POST("/suspensions", h.Suspend)
	admin.POST("/suspensions/:id/review", h.ReviewAppeal)
	admin.POST("/suspensions/:id/lift", h.LiftSuspension)
	admin.GET("/users/:userId/suspensions", h.ListSuspensions)
	admin.GET("/users/:userId/audit", h.ListAudit)
	admin.POST("/users/:userId/revoke-sessions", h.RevokeUserSessions)
}
