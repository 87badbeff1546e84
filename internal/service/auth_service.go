package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/ids"
	"idguard/api/internal/models"
	"idguard/api/internal/repository"
	"idguard/api/internal/security"
)

type userReads interface {
	GetByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

type userWrites interface {
	Create(ctx context.Context, user models.User) error
	RecordLoginFailure(ctx context.Context, id string) (int, error)
	SetLockout(ctx context.Context, id string, until time.Time) error
	ClearLoginFailures(ctx context.Context, id string) error
}

type auditWriter interface {
	Insert(ctx context.Context, e models.AuditEntry) error
}

// AuthService handles credential verification and account registration.
// Session lifecycle is delegated to SessionService.
type AuthService struct {
	users    userReads
	userMut  userWrites
	audit    auditWriter
	sessions *SessionService
	throttle *redis.Client
	cfg      *config.AppConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewAuthService(store *repository.Store, sessions *SessionService, throttle *redis.Client, cfg *config.AppConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:    store.Users,
		userMut:  store.Users,
		audit:    store.Audit,
		sessions: sessions,
		throttle: throttle,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	TenantID    string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.Password == "" {
		return models.User{}, fmt.Errorf("email and password required")
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		DisplayName:  input.DisplayName,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusPending,
		TenantID:     input.TenantID,
	}

	// The unique index on email is the authority; a pre-check would
	// just race against concurrent registrations.
	if err := s.userMut.Create(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

type LoginInput struct {
	Email     string
	Password  string
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Login verifies credentials and opens a session. An unknown email and
// a wrong password are indistinguishable to the caller: both come back
// as ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (SessionTokens, error) {
	now := s.now().UTC()
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))

	if err := s.checkThrottle(ctx, input.Email); err != nil {
		return SessionTokens{}, err
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.bumpThrottle(ctx, input.Email)
			return SessionTokens{}, ErrInvalidCredentials
		}
		return SessionTokens{}, err
	}

	if user.Locked(now) {
		return SessionTokens{}, ErrUserLocked
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		s.bumpThrottle(ctx, input.Email)
		if ferr := s.recordFailure(ctx, user, input, now); ferr != nil {
			return SessionTokens{}, ferr
		}
		return SessionTokens{}, ErrInvalidCredentials
	}

	if user.Status == models.UserStatusSuspended {
		return SessionTokens{}, ErrUserSuspended
	}

	if err := s.userMut.ClearLoginFailures(ctx, user.ID); err != nil {
		return SessionTokens{}, err
	}

	deviceID := input.DeviceID
	if deviceID == "" {
		deviceID = ids.New()
	}

	// The login entry rides the session-creation transaction: the audit
	// trail and the session commit or roll back together.
	actor := Actor{UserID: user.ID, IPAddress: input.IPAddress, UserAgent: input.UserAgent}
	tokens, err := s.sessions.Create(ctx, CreateSessionInput{
		UserID:     user.ID,
		IPAddress:  input.IPAddress,
		UserAgent:  input.UserAgent,
		DeviceID:   deviceID,
		ExtraAudit: []models.AuditEntry{newAudit(models.AuditUserLogin, actor, user.ID, "", now)},
	})
	if err != nil {
		return SessionTokens{}, err
	}

	return tokens, nil
}

func (s *AuthService) recordFailure(ctx context.Context, user models.User, input LoginInput, now time.Time) error {
	count, err := s.userMut.RecordLoginFailure(ctx, user.ID)
	if err != nil {
		return err
	}

	actor := Actor{IPAddress: input.IPAddress, UserAgent: input.UserAgent}
	if err := s.audit.Insert(ctx, newAudit(models.AuditUserLoginFailed, actor, user.ID, "", now)); err != nil {
		return err
	}

	if count >= s.cfg.Security.MaxFailedLogins {
		until := now.Add(s.cfg.Security.LockoutDuration)
		if err := s.userMut.SetLockout(ctx, user.ID, until); err != nil {
			return err
		}
		if err := s.audit.Insert(ctx, newAudit(models.AuditUserLocked, actor, user.ID,
			fmt.Sprintf("locked until %s after %d failures", until.Format(time.RFC3339), count), now)); err != nil {
			return err
		}
	}
	return nil
}

// Redis-backed throttle in front of the persistent lockout counter.
// Best-effort: a throttle outage must not take logins down with it.
func (s *AuthService) checkThrottle(ctx context.Context, email string) error {
	if s.throttle == nil {
		return nil
	}
	count, err := s.throttle.Get(ctx, throttleKey(email)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Msg("login throttle read failed")
		}
		return nil
	}
	if count >= s.cfg.Security.MaxFailedLogins*2 {
		return ErrUserLocked
	}
	return nil
}

func (s *AuthService) bumpThrottle(ctx context.Context, email string) {
	if s.throttle == nil {
		return
	}
	key := throttleKey(email)
	if err := s.throttle.Incr(ctx, key).Err(); err != nil {
		s.log.Warn().Err(err).Msg("login throttle incr failed")
		return
	}
	s.throttle.Expire(ctx, key, s.cfg.Security.LockoutDuration)
}

func throttleKey(email string) string {
	return "login_fail:" + email
}

// Logout revokes the session behind the presented refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken, ip, userAgent string) error {
	hash := security.HashToken(refreshToken)
	session, err := s.sessions.reads.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionInvalid
		}
		return err
	}
	actor := Actor{UserID: session.UserID, IPAddress: ip, UserAgent: userAgent}
	return s.sessions.Revoke(ctx, session.ID, "logout", actor)
}
