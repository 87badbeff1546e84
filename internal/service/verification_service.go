package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/ids"
	"idguard/api/internal/models"
	"idguard/api/internal/notify"
	"idguard/api/internal/repository"
	"idguard/api/internal/security"
)

type verificationReads interface {
	FindByHash(ctx context.Context, hash []byte) (models.VerificationToken, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
}

type verificationWrites interface {
	IssueVerification(ctx context.Context, token models.VerificationToken, at time.Time, audit models.AuditEntry) error
	ConsumeVerification(ctx context.Context, id string, at time.Time, audit models.AuditEntry) (bool, error)
}

// VerificationService issues and redeems attempt-limited, typed,
// single-use tokens: email verification, phone verification, 2FA
// challenges. A token moves Issued -> (attempted)* -> Used, with
// expiry and attempt exhaustion computed at check time.
type VerificationService struct {
	reads  verificationReads
	writes verificationWrites
	users  userReads
	sender notify.Sender
	cfg    *config.AppConfig
	log    zerolog.Logger
	now    func() time.Time
}

func NewVerificationService(store *repository.Store, sender notify.Sender, cfg *config.AppConfig, log zerolog.Logger) *VerificationService {
	return &VerificationService{
		reads:  store.Verifications,
		writes: store,
		users:  store.Users,
		sender: sender,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

type IssueVerificationInput struct {
	UserID  string
	Purpose models.VerificationPurpose
	Payload string
	TTL     time.Duration // zero means the configured default
	Actor   Actor
}

// IssuedVerification carries the two secrets handed out on issue: the
// opaque challenge token and the short proof code delivered out of
// band. Neither is ever stored in plaintext.
type IssuedVerification struct {
	Token models.VerificationToken
	// Challenge identifies the token on verify.
	Challenge string
	// Proof is the code the user must present.
	Proof string
}

func (s *VerificationService) Issue(ctx context.Context, input IssueVerificationInput) (IssuedVerification, error) {
	now := s.now().UTC()

	user, err := s.users.GetByID(ctx, input.UserID)
	if err != nil {
		return IssuedVerification{}, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.cfg.Security.VerificationTokenTTL
	}

	challenge, challengeHash, err := security.NewOpaqueToken(security.DefaultTokenBytes)
	if err != nil {
		return IssuedVerification{}, err
	}
	proof, err := newProofCode()
	if err != nil {
		return IssuedVerification{}, err
	}

	token := models.VerificationToken{
		ID:          ids.New(),
		UserID:      input.UserID,
		Purpose:     input.Purpose,
		TokenHash:   challengeHash,
		ProofHash:   security.HashToken(proof),
		Payload:     input.Payload,
		MaxAttempts: s.cfg.Security.MaxVerificationAttempts,
		ExpiresAt:   now.Add(ttl),
	}

	audit := newAudit(models.AuditVerificationIssued, input.Actor, input.UserID, string(input.Purpose), now)

	// Issuing retires any live token of the same purpose first: at most
	// one live verification token per (user, purpose).
	if err := s.writes.IssueVerification(ctx, token, now, audit); err != nil {
		return IssuedVerification{}, err
	}

	// Delivery is fire-and-forget; the sender owns its retry policy.
	go func() {
		if err := s.sender.SendVerification(context.Background(), user.Email, string(input.Purpose), proof); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("verification delivery failed")
		}
	}()

	return IssuedVerification{Token: token, Challenge: challenge, Proof: proof}, nil
}

// Verify checks a proof against a challenge token. The attempt counter
// is incremented before any validity decision, so probing with garbage
// cannot dodge the limit. Exhaustion is permanent: once attempts reach
// the maximum, even a correct proof fails.
func (s *VerificationService) Verify(ctx context.Context, challenge, candidateProof string) (string, error) {
	now := s.now().UTC()

	token, err := s.reads.FindByHash(ctx, security.HashToken(challenge))
	if err != nil {
		if errors.Is(err, repository.ErrVerificationNotFound) {
			return "", ErrTokenNotFound
		}
		return "", err
	}

	attempts, err := s.reads.IncrementAttempts(ctx, token.ID)
	if err != nil {
		return "", err
	}

	mismatch := !security.TokenEqual(token.ProofHash, security.HashToken(candidateProof))

	switch {
	case token.InvalidatedAt != nil:
		// Superseded by a newer token of the same purpose.
		return "", ErrTokenNotFound
	case token.UsedAt != nil:
		return "", ErrTokenUsed
	case !now.Before(token.ExpiresAt):
		return "", ErrTokenExpired
	case attempts > token.MaxAttempts:
		// A previous attempt already exhausted the budget; correctness
		// of the proof no longer matters.
		return "", ErrTooManyAttempts
	case mismatch && attempts >= token.MaxAttempts:
		// This failure spends the last attempt.
		return "", ErrTooManyAttempts
	case mismatch:
		return "", ErrProofMismatch
	}

	audit := newAudit(models.AuditVerificationConsumed, Actor{UserID: token.UserID}, token.UserID, string(token.Purpose), now)
	ok, err := s.writes.ConsumeVerification(ctx, token.ID, now, audit)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrTokenUsed
	}
	return token.Payload, nil
}

// newProofCode returns an 8-digit numeric code from a CSPRNG.
func newProofCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", fmt.Errorf("generate proof code: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}
