package models

import (
	"fmt"
	"time"
)

type UserRole string

const (
	UserRoleUser       UserRole = "user"
	UserRoleAdmin      UserRole = "admin"
	UserRoleSuperAdmin UserRole = "superadmin"
)

func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case UserRoleUser, UserRoleAdmin, UserRoleSuperAdmin:
		return UserRole(s), nil
	}
	return "", fmt.Errorf("unknown user role %q", s)
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusPending   UserStatus = "pending"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

func ParseUserStatus(s string) (UserStatus, error) {
	switch UserStatus(s) {
	case UserStatusActive, UserStatusPending, UserStatusSuspended, UserStatusDeleted:
		return UserStatus(s), nil
	}
	return "", fmt.Errorf("unknown user status %q", s)
}

type User struct {
	ID                string
	Email             string
	PasswordHash      []byte
	DisplayName       string
	Role              UserRole
	Status            UserStatus
	TwoFactorEnabled  bool
	TwoFactorSecret   *string
	FailedLogins      int
	LockedUntil       *time.Time
	PasswordChangedAt *time.Time
	TrialStartsAt     *time.Time
	TrialEndsAt       *time.Time
	TenantID          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Locked reports whether the account is under a failed-login lockout.
func (u User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
