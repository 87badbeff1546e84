package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"idguard/api/internal/config"
	"idguard/api/internal/ids"
	"idguard/api/internal/models"
	"idguard/api/internal/repository"
)

type suspensionReads interface {
	GetByID(ctx context.Context, id string) (models.Suspension, error)
	FindActiveByUser(ctx context.Context, userID string) (models.Suspension, error)
	ListByUser(ctx context.Context, userID string) ([]models.Suspension, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.Suspension, error)
}

type suspensionWrites interface {
	SuspendUser(ctx context.Context, susp models.Suspension, at time.Time, audit models.AuditEntry) (int64, error)
	FileAppeal(ctx context.Context, id, reason string, at time.Time, audit *models.AuditEntry) (bool, error)
	ReviewAppeal(ctx context.Context, susp models.Suspension, reviewerID string, status models.AppealStatus, lift bool, at time.Time, audit models.AuditEntry) (bool, error)
	LiftSuspension(ctx context.Context, susp models.Suspension, reason string, at time.Time, audit models.AuditEntry) (bool, error)
	ExpireSuspension(ctx context.Context, susp models.Suspension, at time.Time, audit models.AuditEntry) (bool, error)
}

// SuspensionService runs the administrative suspension workflow and its
// appeal sub-workflow. Active-state transitions are guarded both here
// and in the store's WHERE clauses, so racing admins resolve cleanly.
type SuspensionService struct {
	reads  suspensionReads
	writes suspensionWrites
	users  userReads
	cfg    *config.AppConfig
	log    zerolog.Logger
	now    func() time.Time

	// auditAppealFiling is a policy switch: whether filing an appeal
	// itself lands in the audit trail.
	auditAppealFiling bool
}

func NewSuspensionService(store *repository.Store, cfg *config.AppConfig, log zerolog.Logger) *SuspensionService {
	return &SuspensionService{
		reads:             store.Suspensions,
		writes:            store,
		users:             store.Users,
		cfg:               cfg,
		log:               log,
		now:               time.Now,
		auditAppealFiling: true,
	}
}

type SuspendInput struct {
	UserID        string
	SuspendedByID string
	Reason        string
	Duration      models.SuspensionDuration
	DurationDays  int
	CanAppeal     bool
	IPAddress     string
	UserAgent     string
}

// Suspend creates the one active suspension a user may have, revokes
// every live session and records the audit entry atomically. A
// concurrent suspend of the same user loses on the store's partial
// unique index and surfaces as ErrAlreadySuspended.
func (s *SuspensionService) Suspend(ctx context.Context, input SuspendInput) (models.Suspension, error) {
	now := s.now().UTC()

	if _, err := models.ParseSuspensionDuration(string(input.Duration)); err != nil {
		return models.Suspension{}, err
	}
	if input.Duration == models.SuspensionTemporary && input.DurationDays <= 0 {
		return models.Suspension{}, fmt.Errorf("temporary suspension requires a positive duration")
	}

	if _, err := s.users.GetByID(ctx, input.UserID); err != nil {
		return models.Suspension{}, err
	}

	susp := models.Suspension{
		ID:            ids.New(),
		UserID:        input.UserID,
		SuspendedByID: input.SuspendedByID,
		Reason:        input.Reason,
		Duration:      input.Duration,
		CanAppeal:     input.CanAppeal,
		AppealStatus:  models.AppealNone,
		Active:        true,
		CreatedAt:     now,
	}

	// suspendedUntil stays nil for permanent and indefinite
	// suspensions; only temporary ones have a computed end.
	if input.Duration == models.SuspensionTemporary {
		days := input.DurationDays
		susp.DurationDays = &days
		until := now.Add(time.Duration(days) * 24 * time.Hour)
		susp.SuspendedUntil = &until
	}
	if input.CanAppeal {
		deadline := now.Add(time.Duration(s.cfg.Security.AppealWindowDays) * 24 * time.Hour)
		susp.AppealDeadline = &deadline
	}

	actor := Actor{UserID: input.SuspendedByID, IPAddress: input.IPAddress, UserAgent: input.UserAgent}
	audit := newAudit(models.AuditUserSuspended, actor, input.UserID, input.Reason, now)

	revoked, err := s.writes.SuspendUser(ctx, susp, now, audit)
	if err != nil {
		if errors.Is(err, repository.ErrActiveSuspensionExists) {
			return models.Suspension{}, ErrAlreadySuspended
		}
		return models.Suspension{}, err
	}

	s.log.Info().
		Str("user_id", input.UserID).
		Str("suspension_id", susp.ID).
		Str("duration", string(input.Duration)).
		Int64("sessions_revoked", revoked).
		Msg("user suspended")

	return susp, nil
}

// FileAppeal is valid only for an active, appealable, not-yet-appealed
// suspension, strictly before the appeal deadline.
func (s *SuspensionService) FileAppeal(ctx context.Context, suspensionID, reason, ip, userAgent string) (models.Suspension, error) {
	now := s.now().UTC()

	susp, err := s.reads.GetByID(ctx, suspensionID)
	if err != nil {
		return models.Suspension{}, err
	}

	switch {
	case !susp.Active:
		return models.Suspension{}, ErrNotActive
	case !susp.CanAppeal:
		return models.Suspension{}, ErrAppealNotAllowed
	case susp.HasAppealed:
		return models.Suspension{}, ErrAppealAlreadyFiled
	case susp.AppealDeadline == nil || !now.Before(*susp.AppealDeadline):
		return models.Suspension{}, ErrAppealWindowClosed
	}

	var audit *models.AuditEntry
	if s.auditAppealFiling {
		actor := Actor{UserID: susp.UserID, IPAddress: ip, UserAgent: userAgent}
		entry := newAudit(models.AuditAppealFiled, actor, susp.UserID, reason, now)
		audit = &entry
	}

	ok, err := s.writes.FileAppeal(ctx, suspensionID, reason, now, audit)
	if err != nil {
		return models.Suspension{}, err
	}
	if !ok {
		// A racing lift or duplicate filing got there first.
		return models.Suspension{}, ErrAlreadyResolved
	}

	susp.HasAppealed = true
	susp.AppealReason = reason
	susp.AppealedAt = &now
	susp.AppealStatus = models.AppealPending
	return susp, nil
}

// ReviewAppeal resolves a pending appeal. Approval lifts the
// suspension; denial leaves it active.
func (s *SuspensionService) ReviewAppeal(ctx context.Context, suspensionID, reviewerID string, approve bool, ip, userAgent string) (models.Suspension, error) {
	now := s.now().UTC()

	susp, err := s.reads.GetByID(ctx, suspensionID)
	if err != nil {
		return models.Suspension{}, err
	}

	switch {
	case !susp.HasAppealed:
		return models.Suspension{}, ErrAppealNotFiled
	case susp.AppealStatus != models.AppealPending:
		return models.Suspension{}, ErrAlreadyResolved
	case !susp.Active:
		return models.Suspension{}, ErrNotActive
	}

	status := models.AppealDenied
	action := models.AuditAppealDenied
	if approve {
		status = models.AppealApproved
		action = models.AuditAppealApproved
	}

	actor := Actor{UserID: reviewerID, IPAddress: ip, UserAgent: userAgent}
	audit := newAudit(action, actor, susp.UserID, susp.AppealReason, now)

	ok, err := s.writes.ReviewAppeal(ctx, susp, reviewerID, status, approve, now, audit)
	if err != nil {
		return models.Suspension{}, err
	}
	if !ok {
		return models.Suspension{}, ErrAlreadyResolved
	}

	susp.AppealStatus = status
	susp.AppealReviewedBy = &reviewerID
	susp.AppealReviewedAt = &now
	if approve {
		susp.Active = false
		susp.LiftedAt = &now
	}
	return susp, nil
}

// ManualLift is the admin override: deactivates from any active state.
func (s *SuspensionService) ManualLift(ctx context.Context, suspensionID, liftedByID, reason, ip, userAgent string) error {
	now := s.now().UTC()

	susp, err := s.reads.GetByID(ctx, suspensionID)
	if err != nil {
		return err
	}
	if !susp.Active {
		return ErrNotActive
	}

	actor := Actor{UserID: liftedByID, IPAddress: ip, UserAgent: userAgent}
	audit := newAudit(models.AuditSuspensionLifted, actor, susp.UserID, reason, now)

	ok, err := s.writes.LiftSuspension(ctx, susp, reason, now, audit)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotActive
	}
	return nil
}

// ExpireSweep deactivates every timed suspension whose end has passed.
// System-initiated: the per-row audit entries carry no performer. Safe
// to re-run; rows already lifted by a racing sweep are skipped.
func (s *SuspensionService) ExpireSweep(ctx context.Context) (int, error) {
	now := s.now().UTC()

	due, err := s.reads.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, susp := range due {
		audit := newAudit(models.AuditSuspensionExpired, Actor{}, susp.UserID, "suspension expired", now)
		ok, err := s.writes.ExpireSuspension(ctx, susp, now, audit)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *SuspensionService) GetByID(ctx context.Context, id string) (models.Suspension, error) {
	return s.reads.GetByID(ctx, id)
}

func (s *SuspensionService) ActiveForUser(ctx context.Context, userID string) (models.Suspension, error) {
	return s.reads.FindActiveByUser(ctx, userID)
}

func (s *SuspensionService) HistoryForUser(ctx context.Context, userID string) ([]models.Suspension, error) {
	return s.reads.ListByUser(ctx, userID)
}
