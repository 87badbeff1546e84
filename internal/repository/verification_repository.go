package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"idguard/api/internal/models"
)

type VerificationRepository struct {
	db Querier
}

func NewVerificationRepository(db Querier) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func (r *VerificationRepository) withQuerier(q Querier) *VerificationRepository {
	return &VerificationRepository{db: q}
}

const verificationColumns = `
	id, user_id, purpose, token_hash, proof_hash, payload, attempts, max_attempts,
	expires_at, used_at, invalidated_at, created_at`

func scanVerification(row pgx.Row) (models.VerificationToken, error) {
	var t models.VerificationToken
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Purpose,
		&t.TokenHash,
		&t.ProofHash,
		&t.Payload,
		&t.Attempts,
		&t.MaxAttempts,
		&t.ExpiresAt,
		&t.UsedAt,
		&t.InvalidatedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VerificationToken{}, ErrVerificationNotFound
		}
		return models.VerificationToken{}, err
	}
	return t, nil
}

func (r *VerificationRepository) Create(ctx context.Context, t models.VerificationToken) error {
	const query = `
		INSERT INTO verification_tokens (
			id, user_id, purpose, token_hash, proof_hash, payload, attempts, max_attempts,
			expires_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, 0, $7, $8, NOW()
		)
	`
	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.UserID,
		t.Purpose,
		t.TokenHash,
		t.ProofHash,
		t.Payload,
		t.MaxAttempts,
		t.ExpiresAt,
	)
	return err
}

func (r *VerificationRepository) FindByHash(ctx context.Context, hash []byte) (models.VerificationToken, error) {
	const query = `SELECT` + verificationColumns + ` FROM verification_tokens WHERE token_hash = $1`
	return scanVerification(r.db.QueryRow(ctx, query, hash))
}

// InvalidateLive retires every unused, unexpired token of the same
// purpose; issuing keeps at most one live token per (user, purpose).
func (r *VerificationRepository) InvalidateLive(ctx context.Context, userID string, purpose models.VerificationPurpose, at time.Time) (int64, error) {
	const query = `
		UPDATE verification_tokens
		SET invalidated_at = $3
		WHERE user_id = $1 AND purpose = $2
		  AND used_at IS NULL AND invalidated_at IS NULL
	`
	cmd, err := r.db.Exec(ctx, query, userID, purpose, at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// IncrementAttempts is an atomic increment-and-read; the attempt limit
// stays race-proof under concurrent verify calls.
func (r *VerificationRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	const query = `
		UPDATE verification_tokens
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := r.db.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVerificationNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// MarkUsed consumes the token; the used_at IS NULL guard makes
// consumption single-winner under races.
func (r *VerificationRepository) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
		UPDATE verification_tokens
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`
	cmd, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *VerificationRepository) PurgeDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM verification_tokens
		WHERE expires_at < $1 OR used_at IS NOT NULL OR invalidated_at IS NOT NULL
	`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
