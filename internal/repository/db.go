package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so every repository
// works both standalone and inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrDuplicateEmail         = errors.New("email already registered")
	ErrSessionNotFound        = errors.New("session not found")
	ErrVerificationNotFound   = errors.New("verification token not found")
	ErrResetNotFound          = errors.New("password reset not found")
	ErrSuspensionNotFound     = errors.New("suspension not found")
	ErrActiveSuspensionExists = errors.New("user already has an active suspension")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
