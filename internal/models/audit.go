package models

import "time"

// AuditAction is the closed set of recorded security actions. The string
// form is what gets persisted.
type AuditAction string

const (
	AuditUserLogin            AuditAction = "user.login"
	AuditUserLoginFailed      AuditAction = "user.login_failed"
	AuditUserLocked           AuditAction = "user.locked"
	AuditUserSuspended        AuditAction = "user.suspended"
	AuditSessionCreated       AuditAction = "session.created"
	AuditSessionRevoked       AuditAction = "session.revoked"
	AuditSessionReuseDetected AuditAction = "session.reuse_detected"
	AuditPasswordReset        AuditAction = "password.reset"
	AuditVerificationIssued   AuditAction = "verification.issued"
	AuditVerificationConsumed AuditAction = "verification.consumed"
	AuditAppealFiled          AuditAction = "suspension.appeal_filed"
	AuditAppealApproved       AuditAction = "suspension.appeal_approved"
	AuditAppealDenied         AuditAction = "suspension.appeal_denied"
	AuditSuspensionExpired    AuditAction = "suspension.expired"
	AuditSuspensionLifted     AuditAction = "suspension.lifted"
)

// AuditEntry is append-only. Both PerformedByID and TargetUserID are
// nullable: system-initiated actions (the expiry sweep) have no human
// performer.
type AuditEntry struct {
	ID            string
	Action        AuditAction
	PerformedByID *string
	TargetUserID  *string
	Details       string
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
}
