package models

import "time"

type Session struct {
	ID               string
	UserID           string
	DeviceID         string
	RefreshTokenHash []byte
	PrevTokenHash    []byte
	IPAddress        string
	UserAgent        string
	Revoked          bool
	RevokedAt        *time.Time
	RevokedReason    string
	ExpiresAt        time.Time
	LastUsedAt       time.Time
	CreatedAt        time.Time
}

// Live reports whether the session can still be refreshed. A revoked
// session stays dead forever, even if its expiry has not passed.
func (s Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
