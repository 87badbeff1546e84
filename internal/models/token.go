package models

import (
	"fmt"
	"time"
)

type VerificationPurpose string

const (
	PurposeEmailVerify VerificationPurpose = "email_verify"
	PurposePhoneVerify VerificationPurpose = "phone_verify"
	PurposeTwoFactor   VerificationPurpose = "two_factor"
)

func ParseVerificationPurpose(s string) (VerificationPurpose, error) {
	switch VerificationPurpose(s) {
	case PurposeEmailVerify, PurposePhoneVerify, PurposeTwoFactor:
		return VerificationPurpose(s), nil
	}
	return "", fmt.Errorf("unknown verification purpose %q", s)
}

// VerificationToken is an attempt-limited single-use token. Expiry and
// attempt exhaustion are computed at check time, not stored as states.
type VerificationToken struct {
	ID            string
	UserID        string
	Purpose       VerificationPurpose
	TokenHash     []byte
	ProofHash     []byte
	Payload       string
	Attempts      int
	MaxAttempts   int
	ExpiresAt     time.Time
	UsedAt        *time.Time
	InvalidatedAt *time.Time
	CreatedAt     time.Time
}

// Exhausted reports whether the attempt budget is spent. Exhaustion is
// permanent: a later correct proof cannot resurrect the token.
func (t VerificationToken) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash []byte
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
