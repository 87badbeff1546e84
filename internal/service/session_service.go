package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/ids"
	"idguard/api/internal/models"
	"idguard/api/internal/repository"
	"idguard/api/internal/security"
)

// sessionReads are the point lookups the session manager needs.
type sessionReads interface {
	GetByID(ctx context.Context, id string) (models.Session, error)
	FindByTokenHash(ctx context.Context, hash []byte) (models.Session, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)
	RevokeOldest(ctx context.Context, userID string, keepLatest int, at time.Time) error
	RotateRefreshHash(ctx context.Context, id string, oldHash, newHash []byte, lastUsed time.Time) (bool, error)
}

// sessionWrites are the audit-atomic mutations, backed by one
// transaction each in the pgx store.
type sessionWrites interface {
	CreateSession(ctx context.Context, session models.Session, audits ...models.AuditEntry) error
	RevokeSession(ctx context.Context, id, reason string, at time.Time, audit models.AuditEntry) error
	RevokeAllSessions(ctx context.Context, userID, reason string, at time.Time, audit models.AuditEntry) (int64, error)
}

// SessionService owns the lifecycle of authenticated sessions: creation
// on login, refresh-token rotation, revocation, and forensic listing.
type SessionService struct {
	reads  sessionReads
	writes sessionWrites
	users  userReads
	cfg    *config.AppConfig
	log    zerolog.Logger
	now    func() time.Time
}

func NewSessionService(store *repository.Store, cfg *config.AppConfig, log zerolog.Logger) *SessionService {
	return &SessionService{
		reads:  store.Sessions,
		writes: store,
		users:  store.Users,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

type CreateSessionInput struct {
	UserID    string
	IPAddress string
	UserAgent string
	DeviceID  string
	// ExtraAudit entries commit in the same transaction as the session;
	// login uses this so its audit record cannot outlive a failed login
	// or miss a successful one.
	ExtraAudit []models.AuditEntry
}

// SessionTokens carries the secrets handed to the client. The refresh
// token plaintext exists only here; the store keeps its hash.
type SessionTokens struct {
	Session      models.Session
	RefreshToken string
	AccessToken  string
}

func (s *SessionService) Create(ctx context.Context, input CreateSessionInput) (SessionTokens, error) {
	now := s.now().UTC()

	refreshToken, refreshHash, err := security.NewOpaqueToken(security.DefaultTokenBytes)
	if err != nil {
		return SessionTokens{}, err
	}

	user, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		return SessionTokens{}, err
	}

	session := models.Session{
		ID:               ids.New(),
		UserID:           input.UserID,
		DeviceID:         input.DeviceID,
		RefreshTokenHash: refreshHash,
		IPAddress:        input.IPAddress,
		UserAgent:        input.UserAgent,
		ExpiresAt:        now.Add(s.cfg.Security.SessionTTL),
		LastUsedAt:       now,
	}

	actor := Actor{UserID: input.UserID, IPAddress: input.IPAddress, UserAgent: input.UserAgent}
	audits := append(
		[]models.AuditEntry{newAudit(models.AuditSessionCreated, actor, input.UserID, "device "+input.DeviceID, now)},
		input.ExtraAudit...,
	)

	if err := s.writes.CreateSession(ctx, session, audits...); err != nil {
		return SessionTokens{}, err
	}

	if err := s.enforceSessionLimit(ctx, input.UserID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", input.UserID).Msg("enforce session limit failed")
	}

	accessToken, err := security.GenerateAccessToken(
		s.cfg.Security.JWTAccessSecret,
		user.ID,
		session.ID,
		session.DeviceID,
		string(user.Role),
		s.cfg.Security.JWTAccessTTL,
	)
	if err != nil {
		return SessionTokens{}, err
	}

	return SessionTokens{Session: session, RefreshToken: refreshToken, AccessToken: accessToken}, nil
}

func (s *SessionService) enforceSessionLimit(ctx context.Context, userID string, now time.Time) error {
	count, err := s.reads.CountActive(ctx, userID, now)
	if err != nil {
		return err
	}
	if count <= s.cfg.Security.MaxSessions {
		return nil
	}
	return s.reads.RevokeOldest(ctx, userID, s.cfg.Security.MaxSessions, now)
}

// Refresh rotates the refresh token. The rotation is a compare-and-swap
// on the old hash, so two concurrent refreshes with the same token
// resolve to exactly one winner. Presenting an already-rotated (stale)
// token is treated as hijack evidence: the whole session is revoked.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (SessionTokens, error) {
	now := s.now().UTC()
	presentedHash := security.HashToken(refreshToken)

	session, err := s.reads.FindByTokenHash(ctx, presentedHash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return SessionTokens{}, ErrSessionInvalid
		}
		return SessionTokens{}, err
	}

	if !security.TokenEqual(presentedHash, session.RefreshTokenHash) {
		// The presented token matches only the pre-rotation hash:
		// someone is replaying a stale token. Kill the session.
		return SessionTokens{}, s.flagReuse(ctx, session, ip, userAgent, now)
	}

	if session.Revoked {
		return SessionTokens{}, ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return SessionTokens{}, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return SessionTokens{}, err
	}
	if user.Status == models.UserStatusSuspended {
		return SessionTokens{}, ErrUserSuspended
	}

	// Everything fallible happens before the swap: a refresh that errors
	// out must leave the presented token valid, or the client's retry
	// would look like a replay.
	newToken, newHash, err := security.NewOpaqueToken(security.DefaultTokenBytes)
	if err != nil {
		return SessionTokens{}, err
	}

	accessToken, err := security.GenerateAccessToken(
		s.cfg.Security.JWTAccessSecret,
		user.ID,
		session.ID,
		session.DeviceID,
		string(user.Role),
		s.cfg.Security.JWTAccessTTL,
	)
	if err != nil {
		return SessionTokens{}, err
	}

	ok, err := s.reads.RotateRefreshHash(ctx, session.ID, presentedHash, newHash, now)
	if err != nil {
		return SessionTokens{}, err
	}
	if !ok {
		// Lost the swap to a concurrent refresh of the same token.
		return SessionTokens{}, s.flagReuse(ctx, session, ip, userAgent, now)
	}

	session.RefreshTokenHash = newHash
	session.PrevTokenHash = presentedHash
	session.LastUsedAt = now

	return SessionTokens{Session: session, RefreshToken: newToken, AccessToken: accessToken}, nil
}

func (s *SessionService) flagReuse(ctx context.Context, session models.Session, ip, userAgent string, now time.Time) error {
	audit := newAudit(models.AuditSessionReuseDetected,
		Actor{IPAddress: ip, UserAgent: userAgent},
		session.UserID, "stale refresh token replayed", now)

	if err := s.writes.RevokeSession(ctx, session.ID, "refresh token reuse", now, audit); err != nil {
		s.log.Error().Err(err).Str("session_id", session.ID).Msg("revoke on reuse failed")
		return err
	}
	s.log.Warn().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Str("ip", ip).
		Msg("refresh token reuse detected")
	return ErrSessionRevoked
}

// Revoke is idempotent: revoking a dead session is a no-op success.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string, actor Actor) error {
	now := s.now().UTC()

	session, err := s.reads.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionInvalid
		}
		return err
	}
	if session.Revoked {
		return nil
	}

	audit := newAudit(models.AuditSessionRevoked, actor, session.UserID, reason, now)
	return s.writes.RevokeSession(ctx, sessionID, reason, now, audit)
}

// RevokeAllForUser bulk-revokes, as on password change or suspension.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, reason string, actor Actor) (int64, error) {
	now := s.now().UTC()
	audit := newAudit(models.AuditSessionRevoked, actor, userID, reason, now)
	return s.writes.RevokeAllSessions(ctx, userID, reason, now, audit)
}

func (s *SessionService) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	return s.reads.ListActive(ctx, userID, s.now().UTC())
}
