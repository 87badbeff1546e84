package models

import (
	"fmt"
	"time"
)

type SuspensionDuration string

const (
	SuspensionTemporary  SuspensionDuration = "temporary"
	SuspensionPermanent  SuspensionDuration = "permanent"
	SuspensionIndefinite SuspensionDuration = "indefinite"
)

func ParseSuspensionDuration(s string) (SuspensionDuration, error) {
	switch SuspensionDuration(s) {
	case SuspensionTemporary, SuspensionPermanent, SuspensionIndefinite:
		return SuspensionDuration(s), nil
	}
	return "", fmt.Errorf("unknown suspension duration %q", s)
}

type AppealStatus string

const (
	AppealNone     AppealStatus = "none"
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

func ParseAppealStatus(s string) (AppealStatus, error) {
	switch AppealStatus(s) {
	case AppealNone, AppealPending, AppealApproved, AppealDenied:
		return AppealStatus(s), nil
	}
	return "", fmt.Errorf("unknown appeal status %q", s)
}

type Suspension struct {
	ID               string
	UserID           string
	SuspendedByID    string
	Reason           string
	Duration         SuspensionDuration
	DurationDays     *int
	SuspendedUntil   *time.Time
	CanAppeal        bool
	AppealDeadline   *time.Time
	HasAppealed      bool
	AppealReason     string
	AppealedAt       *time.Time
	AppealStatus     AppealStatus
	AppealReviewedBy *string
	AppealReviewedAt *time.Time
	Active           bool
	LiftedAt         *time.Time
	LiftedReason     string
	CreatedAt        time.Time
}

// Appealable reports whether an appeal may still be filed.
func (s Suspension) Appealable(now time.Time) bool {
	if !s.Active || !s.CanAppeal || s.HasAppealed {
		return false
	}
	return s.AppealDeadline != nil && now.Before(*s.AppealDeadline)
}

// ExpiresBy reports whether a timed suspension has run out.
func (s Suspension) ExpiresBy(now time.Time) bool {
	return s.SuspendedUntil != nil && !now.Before(*s.SuspendedUntil)
}
