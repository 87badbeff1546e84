package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"idguard/api/internal/models"
)

type ResetRepository struct {
	db Querier
}

func NewResetRepository(db Querier) *ResetRepository {
	return &ResetRepository{db: db}
}

func (r *ResetRepository) withQuerier(q Querier) *ResetRepository {
	return &ResetRepository{db: q}
}

const resetColumns = `id, user_id, token_hash, expires_at, used_at, created_at`

func scanReset(row pgx.Row) (models.PasswordReset, error) {
	var pr models.PasswordReset
	err := row.Scan(
		&pr.ID,
		&pr.UserID,
		&pr.TokenHash,
		&pr.ExpiresAt,
		&pr.UsedAt,
		&pr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PasswordReset{}, ErrResetNotFound
		}
		return models.PasswordReset{}, err
	}
	return pr, nil
}

func (r *ResetRepository) Create(ctx context.Context, pr models.PasswordReset) error {
	const query = `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Exec(ctx, query, pr.ID, pr.UserID, pr.TokenHash, pr.ExpiresAt)
	return err
}

func (r *ResetRepository) FindByHash(ctx context.Context, hash []byte) (models.PasswordReset, error) {
	const query = `SELECT ` + resetColumns + ` FROM password_resets WHERE token_hash = $1`
	return scanReset(r.db.QueryRow(ctx, query, hash))
}

func (r *ResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
		UPDATE password_resets SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`
	cmd, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ResetRepository) PurgeDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM password_resets
		WHERE expires_at < $1 OR used_at IS NOT NULL
	`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
