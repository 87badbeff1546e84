package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"idguard/api/internal/models"
)

type SessionRepository struct {
	db Querier
}

func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) withQuerier(q Querier) *SessionRepository {
	return &SessionRepository{db: q}
}

const sessionColumns = `
	id, user_id, device_id, refresh_token_hash, prev_token_hash, ip_address,
	user_agent, revoked, revoked_at, revoked_reason, expires_at, last_used_at,
	created_at`

func scanSession(row pgx.Row) (models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.DeviceID,
		&s.RefreshTokenHash,
		&s.PrevTokenHash,
		&s.IPAddress,
		&s.UserAgent,
		&s.Revoked,
		&s.RevokedAt,
		&s.RevokedReason,
		&s.ExpiresAt,
		&s.LastUsedAt,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s models.Session) error {
	const query = `
		INSERT INTO sessions (
			id, user_id, device_id, refresh_token_hash, ip_address, user_agent,
			expires_at, last_used_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, NOW()
		)
	`
	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.DeviceID,
		s.RefreshTokenHash,
		s.IPAddress,
		s.UserAgent,
		s.ExpiresAt,
		s.LastUsedAt,
	)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	const query = `SELECT` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, query, id))
}

// FindByTokenHash is an indexed point read on the sha256 of the
// presented token. The secret itself never appears in a query. A row
// whose previous (already-rotated) hash matches is also returned, so
// the caller can recognize replay of a stale token.
func (r *SessionRepository) FindByTokenHash(ctx context.Context, hash []byte) (models.Session, error) {
	const query = `
		SELECT` + sessionColumns + `
		FROM sessions
		WHERE refresh_token_hash = $1 OR prev_token_hash = $1
	`
	return scanSession(r.db.QueryRow(ctx, query, hash))
}

// RotateRefreshHash swaps the refresh token hash with a compare-and-swap
// on the old value. Exactly one of two concurrent refreshes with the
// same token can win; the loser sees false.
func (r *SessionRepository) RotateRefreshHash(ctx context.Context, id string, oldHash, newHash []byte, lastUsed time.Time) (bool, error) {
	const query = `
		UPDATE sessions
		SET refresh_token_hash = $3, prev_token_hash = $2, last_used_at = $4
		WHERE id = $1 AND refresh_token_hash = $2 AND NOT revoked
	`
	cmd, err := r.db.Exec(ctx, query, id, oldHash, newHash, lastUsed)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// Revoke is idempotent: revoking an already-revoked session changes
// nothing and reports ok. Only an unknown id is an error.
func (r *SessionRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	const query = `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = $3, revoked_reason = $2
		WHERE id = $1 AND NOT revoked
	`
	cmd, err := r.db.Exec(ctx, query, id, reason, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	const query = `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = $3, revoked_reason = $2
		WHERE user_id = $1 AND NOT revoked
	`
	cmd, err := r.db.Exec(ctx, query, userID, reason, at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	const query = `
		SELECT` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY last_used_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	const query = `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
	`
	var count int
	if err := r.db.QueryRow(ctx, query, userID, now).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// RevokeOldest trims a user down to keepLatest live sessions.
func (r *SessionRepository) RevokeOldest(ctx context.Context, userID string, keepLatest int, at time.Time) error {
	const query = `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = $3, revoked_reason = 'session limit'
		WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = $1 AND NOT revoked AND expires_at > $3
			ORDER BY last_used_at DESC
			OFFSET $2
		)
	`
	_, err := r.db.Exec(ctx, query, userID, keepLatest, at)
	return err
}

func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time, ip, userAgent string) error {
	const query = `
		UPDATE sessions
		SET last_used_at = $2,
		    ip_address = COALESCE(NULLIF($3, ''), ip_address),
		    user_agent = COALESCE(NULLIF($4, ''), user_agent)
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, id, at, ip, userAgent)
	return err
}

// DeleteExpiredBefore garbage-collects dead sessions past the forensic
// retention window. Live rows are never touched.
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
