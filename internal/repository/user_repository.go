package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"idguard/api/internal/models"
)

type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) withQuerier(q Querier) *UserRepository {
	return &UserRepository{db: q}
}

const userColumns = `
	id, email, password_hash, display_name, role, status,
	two_factor_enabled, two_factor_secret, failed_logins, locked_until,
	password_changed_at, trial_starts_at, trial_ends_at, tenant_id,
	created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Role,
		&user.Status,
		&user.TwoFactorEnabled,
		&user.TwoFactorSecret,
		&user.FailedLogins,
		&user.LockedUntil,
		&user.PasswordChangedAt,
		&user.TrialStartsAt,
		&user.TrialEndsAt,
		&user.TenantID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, display_name, role, status,
			two_factor_enabled, two_factor_secret, tenant_id,
			trial_starts_at, trial_ends_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW()
		)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.Role,
		user.Status,
		user.TwoFactorEnabled,
		user.TwoFactorSecret,
		user.TenantID,
		user.TrialStartsAt,
		user.TrialEndsAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `SELECT` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const query = `SELECT` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status models.UserStatus) error {
	const query = `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	cmd, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, hash []byte, changedAt time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3,
		    failed_logins = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	cmd, err := r.db.Exec(ctx, query, id, hash, changedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordLoginFailure bumps the failed-login counter atomically and
// returns the new count, so concurrent failures cannot lose updates.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	const query = `
		UPDATE users SET failed_logins = failed_logins + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_logins
	`
	var count int
	if err := r.db.QueryRow(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return count, nil
}

func (r *UserRepository) SetLockout(ctx context.Context, id string, until time.Time) error {
	const query = `UPDATE users SET locked_until = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, until)
	return err
}

func (r *UserRepository) ClearLoginFailures(ctx context.Context, id string) error {
	const query = `
		UPDATE users SET failed_logins = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
