package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"idguard/api/internal/models"
)

type SuspensionRepository struct {
	db Querier
}

func NewSuspensionRepository(db Querier) *SuspensionRepository {
	return &SuspensionRepository{db: db}
}

func (r *SuspensionRepository) withQuerier(q Querier) *SuspensionRepository {
	return &SuspensionRepository{db: q}
}

const suspensionColumns = `
	id, user_id, suspended_by_id, reason, duration, duration_days,
	suspended_until, can_appeal, appeal_deadline, has_appealed, appeal_reason,
	appealed_at, appeal_status, appeal_reviewed_by, appeal_reviewed_at,
	active, lifted_at, lifted_reason, created_at`

func scanSuspension(row pgx.Row) (models.Suspension, error) {
	var s models.Suspension
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.SuspendedByID,
		&s.Reason,
		&s.Duration,
		&s.DurationDays,
		&s.SuspendedUntil,
		&s.CanAppeal,
		&s.AppealDeadline,
		&s.HasAppealed,
		&s.AppealReason,
		&s.AppealedAt,
		&s.AppealStatus,
		&s.AppealReviewedBy,
		&s.AppealReviewedAt,
		&s.Active,
		&s.LiftedAt,
		&s.LiftedReason,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Suspension{}, ErrSuspensionNotFound
		}
		return models.Suspension{}, err
	}
	return s, nil
}

// Create relies on the partial unique index over (user_id) WHERE active:
// two concurrent suspends cannot both insert an active row.
func (r *SuspensionRepository) Create(ctx context.Context, s models.Suspension) error {
	const query = `
		INSERT INTO suspensions (
			id, user_id, suspended_by_id, reason, duration, duration_days,
			suspended_until, can_appeal, appeal_deadline, appeal_status,
			active, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, NOW()
		)
	`
	_, err := r.db.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.SuspendedByID,
		s.Reason,
		s.Duration,
		s.DurationDays,
		s.SuspendedUntil,
		s.CanAppeal,
		s.AppealDeadline,
		models.AppealNone,
	)
	if isUniqueViolation(err) {
		return ErrActiveSuspensionExists
	}
	return err
}

func (r *SuspensionRepository) GetByID(ctx context.Context, id string) (models.Suspension, error) {
	const query = `SELECT` + suspensionColumns + ` FROM suspensions WHERE id = $1`
	return scanSuspension(r.db.QueryRow(ctx, query, id))
}

func (r *SuspensionRepository) FindActiveByUser(ctx context.Context, userID string) (models.Suspension, error) {
	const query = `SELECT` + suspensionColumns + ` FROM suspensions WHERE user_id = $1 AND active`
	return scanSuspension(r.db.QueryRow(ctx, query, userID))
}

func (r *SuspensionRepository) ListByUser(ctx context.Context, userID string) ([]models.Suspension, error) {
	const query = `
		SELECT` + suspensionColumns + `
		FROM suspensions WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Suspension
	for rows.Next() {
		s, err := scanSuspension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkAppealFiled records the appeal. The WHERE clause re-checks the
// state machine so a racing lift or second appeal loses cleanly.
func (r *SuspensionRepository) MarkAppealFiled(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	const query = `
		UPDATE suspensions
		SET has_appealed = TRUE, appeal_reason = $2, appealed_at = $3, appeal_status = $4
		WHERE id = $1 AND active AND can_appeal AND NOT has_appealed
	`
	cmd, err := r.db.Exec(ctx, query, id, reason, at, models.AppealPending)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// RecordAppealReview resolves a pending appeal. lift deactivates the
// suspension in the same statement when the appeal is approved.
func (r *SuspensionRepository) RecordAppealReview(ctx context.Context, id, reviewerID string, status models.AppealStatus, lift bool, at time.Time) (bool, error) {
	const query = `
		UPDATE suspensions
		SET appeal_status = $3, appeal_reviewed_by = $2, appeal_reviewed_at = $4,
		    active = active AND NOT $5,
		    lifted_at = CASE WHEN $5 THEN $4 ELSE lifted_at END,
		    lifted_reason = CASE WHEN $5 THEN 'appeal approved' ELSE lifted_reason END
		WHERE id = $1 AND has_appealed AND appeal_status = $6
	`
	cmd, err := r.db.Exec(ctx, query, id, reviewerID, status, at, lift, models.AppealPending)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// Deactivate lifts a suspension. The active guard makes every caller
// (manual lift, expiry sweep, appeal approval) idempotent.
func (r *SuspensionRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	const query = `
		UPDATE suspensions
		SET active = FALSE, lifted_at = $3, lifted_reason = $2
		WHERE id = $1 AND active
	`
	cmd, err := r.db.Exec(ctx, query, id, reason, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListExpired returns active timed suspensions whose end has passed.
func (r *SuspensionRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Suspension, error) {
	const query = `
		SELECT` + suspensionColumns + `
		FROM suspensions
		WHERE active AND suspended_until IS NOT NULL AND suspended_until <= $1
		ORDER BY suspended_until
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Suspension
	for rows.Next() {
		s, err := scanSuspension(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
