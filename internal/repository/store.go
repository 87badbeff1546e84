package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"idguard/api/internal/models"
)

// Store owns the connection pool and composes repository operations
// that must commit together. Every method here that writes an audit
// entry does so in the same transaction as the business mutation: the
// operation is not done until both are.
type Store struct {
	pool *pgxpool.Pool

	Users         *UserRepository
	Sessions      *SessionRepository
	Verifications *VerificationRepository
	Resets        *ResetRepository
	Suspensions   *SuspensionRepository
	Audit         *AuditRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:          pool,
		Users:         NewUserRepository(pool),
		Sessions:      NewSessionRepository(pool),
		Verifications: NewVerificationRepository(pool),
		Resets:        NewResetRepository(pool),
		Suspensions:   NewSuspensionRepository(pool),
		Audit:         NewAuditRepository(pool),
	}
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateSession persists a new session and its audit entries atomically.
// Login passes its own entry alongside the session-created one.
func (s *Store) CreateSession(ctx context.Context, session models.Session, audits ...models.AuditEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.Sessions.withQuerier(tx).Create(ctx, session); err != nil {
			return err
		}
		audit := s.Audit.withQuerier(tx)
		for _, entry := range audits {
			if err := audit.Insert(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// RevokeSession revokes one session with its audit record.
func (s *Store) RevokeSession(ctx context.Context, id, reason string, at time.Time, audit models.AuditEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.Sessions.withQuerier(tx).Revoke(ctx, id, reason, at); err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
}

// RevokeAllSessions bulk-revokes a user's live sessions with audit.
func (s *Store) RevokeAllSessions(ctx context.Context, userID, reason string, at time.Time, audit models.AuditEntry) (int64, error) {
	var count int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		count, err = s.Sessions.withQuerier(tx).RevokeAllForUser(ctx, userID, reason, at)
		if err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return count, err
}

// SuspendUser creates the active suspension, flips the user's status,
// revokes every live session and records the audit entry, all in one
// transaction. ErrActiveSuspensionExists surfaces from the partial
// unique index when a concurrent suspend already won.
func (s *Store) SuspendUser(ctx context.Context, susp models.Suspension, at time.Time, audit models.AuditEntry) (int64, error) {
	var revoked int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.Suspensions.withQuerier(tx).Create(ctx, susp); err != nil {
			return err
		}
		if err := s.Users.withQuerier(tx).UpdateStatus(ctx, susp.UserID, models.UserStatusSuspended); err != nil {
			return err
		}
		var err error
		revoked, err = s.Sessions.withQuerier(tx).RevokeAllForUser(ctx, susp.UserID, "account suspended", at)
		if err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return revoked, err
}

// FileAppeal records the appeal and, when configured, its audit entry.
func (s *Store) FileAppeal(ctx context.Context, id, reason string, at time.Time, audit *models.AuditEntry) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = s.Suspensions.withQuerier(tx).MarkAppealFiled(ctx, id, reason, at)
		if err != nil || !ok {
			return err
		}
		if audit == nil {
			return nil
		}
		return s.Audit.withQuerier(tx).Insert(ctx, *audit)
	})
	return ok, err
}

// ReviewAppeal resolves a pending appeal. Approval lifts the suspension
// and restores the user's status in the same transaction.
func (s *Store) ReviewAppeal(ctx context.Context, susp models.Suspension, reviewerID string, status models.AppealStatus, lift bool, at time.Time, audit models.AuditEntry) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = s.Suspensions.withQuerier(tx).RecordAppealReview(ctx, susp.ID, reviewerID, status, lift, at)
		if err != nil || !ok {
			return err
		}
		if lift {
			if err := s.Users.withQuerier(tx).UpdateStatus(ctx, susp.UserID, models.UserStatusActive); err != nil {
				return err
			}
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return ok, err
}

// LiftSuspension deactivates a suspension and restores the user.
func (s *Store) LiftSuspension(ctx context.Context, susp models.Suspension, reason string, at time.Time, audit models.AuditEntry) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = s.Suspensions.withQuerier(tx).Deactivate(ctx, susp.ID, reason, at)
		if err != nil || !ok {
			return err
		}
		if err := s.Users.withQuerier(tx).UpdateStatus(ctx, susp.UserID, models.UserStatusActive); err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return ok, err
}

// IssueVerification retires any live token of the same purpose and
// creates the replacement atomically.
func (s *Store) IssueVerification(ctx context.Context, token models.VerificationToken, at time.Time, audit models.AuditEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		verifications := s.Verifications.withQuerier(tx)
		if _, err := verifications.InvalidateLive(ctx, token.UserID, token.Purpose, at); err != nil {
			return err
		}
		if err := verifications.Create(ctx, token); err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
}

// ConsumeVerification marks the token used with its audit entry.
// Returns false when another verify already consumed it.
func (s *Store) ConsumeVerification(ctx context.Context, id string, at time.Time, audit models.AuditEntry) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = s.Verifications.withQuerier(tx).MarkUsed(ctx, id, at)
		if err != nil || !ok {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return ok, err
}

// RedeemReset performs the whole password-reset redemption as one unit:
// consume the token, swap the password hash, revoke every standing
// session, write the audit entry. Any failure rolls all of it back, so
// the token can never end up consumed against an unchanged password.
// Returns false when the token was already used by a concurrent redeem.
func (s *Store) RedeemReset(ctx context.Context, resetID, userID string, newHash []byte, at time.Time, audit models.AuditEntry) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = s.Resets.withQuerier(tx).MarkUsed(ctx, resetID, at)
		if err != nil || !ok {
			return err
		}
		if err := s.Users.withQuerier(tx).UpdatePassword(ctx, userID, newHash, at); err != nil {
			return err
		}
		if _, err := s.Sessions.withQuerier(tx).RevokeAllForUser(ctx, userID, "password reset", at); err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return ok, err
}

// ExpireSuspension deactivates one overdue suspension with a
// system-attributed audit entry (nil performer). The guards inside
// Deactivate make a re-run of the sweep a no-op.
func (s *Store) ExpireSuspension(ctx context.Context, susp models.Suspension, at time.Time, audit models.AuditEntry) (bool, error) {
	var ok bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = s.Suspensions.withQuerier(tx).Deactivate(ctx, susp.ID, "suspension expired", at)
		if err != nil || !ok {
			return err
		}
		if err := s.Users.withQuerier(tx).UpdateStatus(ctx, susp.UserID, models.UserStatusActive); err != nil {
			return err
		}
		return s.Audit.withQuerier(tx).Insert(ctx, audit)
	})
	return ok, err
}
