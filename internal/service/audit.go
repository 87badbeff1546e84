package service

import (
	"context"
	"time"

	"idguard/api/internal/ids"
	"idguard/api/internal/models"
)

// Actor identifies who triggered an operation, for audit attribution.
// A zero Actor means a system-initiated action with no human performer.
type Actor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

func (a Actor) performer() *string {
	if a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

func newAudit(action models.AuditAction, actor Actor, targetUserID, details string, at time.Time) models.AuditEntry {
	var target *string
	if targetUserID != "" {
		t := targetUserID
		target = &t
	}
	return models.AuditEntry{
		ID:            ids.New(),
		Action:        action,
		PerformedByID: actor.performer(),
		TargetUserID:  target,
		Details:       details,
		IPAddress:     actor.IPAddress,
		UserAgent:     actor.UserAgent,
		CreatedAt:     at,
	}
}

type auditReader interface {
	ListByTarget(ctx context.Context, targetUserID string, limit, offset int) ([]models.AuditEntry, error)
}

// AuditService exposes read access to the audit trail. Writes happen
// only inside the transactional store compositions.
type AuditService struct {
	audit auditReader
}

func NewAuditService(audit auditReader) *AuditService {
	return &AuditService{audit: audit}
}

func (s *AuditService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.audit.ListByTarget(ctx, userID, limit, offset)
}
