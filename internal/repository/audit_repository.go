package repository

import (
	"context"
	"time"

	"idguard/api/internal/models"
)

// AuditRepository is append-only: the application never updates or
// deletes entries. DeleteArchivedBefore exists solely for the archive
// job, after rows have been exported to object storage.
type AuditRepository struct {
	db Querier
}

func NewAuditRepository(db Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) withQuerier(q Querier) *AuditRepository {
	return &AuditRepository{db: q}
}

const auditColumns = `
	id, action, performed_by_id, target_user_id, details, ip_address,
	user_agent, created_at`

func (r *AuditRepository) Insert(ctx context.Context, e models.AuditEntry) error {
	const query = `
		INSERT INTO audit_log (
			id, action, performed_by_id, target_user_id, details,
			ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`
	_, err := r.db.Exec(ctx, query,
		e.ID,
		e.Action,
		e.PerformedByID,
		e.TargetUserID,
		e.Details,
		e.IPAddress,
		e.UserAgent,
		e.CreatedAt,
	)
	return err
}

func (r *AuditRepository) ListByTarget(ctx context.Context, targetUserID string, limit, offset int) ([]models.AuditEntry, error) {
	const query = `
		SELECT` + auditColumns + `
		FROM audit_log
		WHERE target_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, targetUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.Action,
			&e.PerformedByID,
			&e.TargetUserID,
			&e.Details,
			&e.IPAddress,
			&e.UserAgent,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.AuditEntry, error) {
	const query = `
		SELECT` + auditColumns + `
		FROM audit_log
		WHERE created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.Action,
			&e.PerformedByID,
			&e.TargetUserID,
			&e.Details,
			&e.IPAddress,
			&e.UserAgent,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepository) DeleteArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM audit_log WHERE created_at < $1`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
