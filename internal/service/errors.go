package service

import "errors"

// Expected, recoverable outcomes. Callers map these straight onto
// user-facing responses; anything else is a storage failure and fatal
// to the operation that hit it.
var (
	// credential / session outcomes
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserLocked         = errors.New("account temporarily locked")
	ErrUserSuspended      = errors.New("user suspended")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrSessionExpired     = errors.New("session expired")

	// token outcomes
	ErrTokenNotFound   = errors.New("token not found")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenUsed       = errors.New("token already used")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrProofMismatch   = errors.New("proof mismatch")

	// suspension workflow outcomes
	ErrAlreadySuspended   = errors.New("user already suspended")
	ErrNotActive          = errors.New("suspension not active")
	ErrAlreadyResolved    = errors.New("appeal already resolved")
	ErrAppealNotAllowed   = errors.New("suspension does not allow appeal")
	ErrAppealAlreadyFiled = errors.New("appeal already filed")
	ErrAppealNotFiled     = errors.New("no appeal filed")
	ErrAppealWindowClosed = errors.New("appeal window closed")
)
