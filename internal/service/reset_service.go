package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/ids"
	"idguard/api/internal/models"
	"idguard/api/internal/notify"
	"idguard/api/internal/repository"
	"idguard/api/internal/security"
)

type resetReads interface {
	FindByHash(ctx context.Context, hash []byte) (models.PasswordReset, error)
}

type resetWrites interface {
	Create(ctx context.Context, pr models.PasswordReset) error
}

type resetRedeemer interface {
	RedeemReset(ctx context.Context, resetID, userID string, newHash []byte, at time.Time, audit models.AuditEntry) (bool, error)
}

// ResetService issues and redeems single-use password-reset tokens.
// Redemption is all-or-nothing: mark the token used, swap the password
// and revoke every standing session in one transaction.
type ResetService struct {
	reads    resetReads
	writes   resetWrites
	redeemer resetRedeemer
	users    userReads
	sender   notify.Sender
	cfg      *config.AppConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewResetService(store *repository.Store, sender notify.Sender, cfg *config.AppConfig, log zerolog.Logger) *ResetService {
	return &ResetService{
		reads:    store.Resets,
		writes:   store.Resets,
		redeemer: store,
		users:    store.Users,
		sender:   sender,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Issue creates a reset token for the account behind the email and
// mails it out. An unknown email is reported as ErrUserNotFound so the
// HTTP layer can hide it; nothing here leaks account existence.
func (s *ResetService) Issue(ctx context.Context, email string) (models.PasswordReset, string, error) {
	now := s.now().UTC()

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return models.PasswordReset{}, "", err
	}

	token, hash, err := security.NewOpaqueToken(security.DefaultTokenBytes)
	if err != nil {
		return models.PasswordReset{}, "", err
	}

	reset := models.PasswordReset{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.cfg.Security.ResetTokenTTL),
	}

	if err := s.writes.Create(ctx, reset); err != nil {
		return models.PasswordReset{}, "", err
	}

	go func() {
		if err := s.sender.SendPasswordReset(context.Background(), user.Email, token); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("reset delivery failed")
		}
	}()

	return reset, token, nil
}

// Redeem consumes the token and rewrites the credential. A credential
// change invalidates all standing sessions; the transactional store
// guarantees the token can never be burned against an unchanged
// password.
func (s *ResetService) Redeem(ctx context.Context, token, newPassword, ip, userAgent string) error {
	now := s.now().UTC()

	reset, err := s.reads.FindByHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrResetNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	if reset.UsedAt != nil {
		return ErrTokenUsed
	}
	if !now.Before(reset.ExpiresAt) {
		return ErrTokenExpired
	}

	newHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}

	actor := Actor{UserID: reset.UserID, IPAddress: ip, UserAgent: userAgent}
	audit := newAudit(models.AuditPasswordReset, actor, reset.UserID, "password reset redeemed", now)

	ok, err := s.redeemer.RedeemReset(ctx, reset.ID, reset.UserID, newHash, now, audit)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent redeem of the same token won the race.
		return ErrTokenUsed
	}
	return nil
}
