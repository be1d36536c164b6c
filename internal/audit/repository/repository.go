package repository

import (
	"context"
	"errors"

	"credential-lifecycle/internal/audit/domain"
)

// ErrChangeConflict is returned when another password change for the same
// account claimed the next change count first.
var ErrChangeConflict = errors.New("concurrent password change")

// Repository defines persistence for password audit records.
type Repository interface {
	// Latest returns the account's most recent audit record, or nil if it has none.
	Latest(ctx context.Context, accountID int64) (*domain.PasswordAudit, error)
	// ChangePassword stores the new password hash and appends rec in one
	// transaction. It sets rec.ID.
	ChangePassword(ctx context.Context, accountID int64, passwordHash string, rec *domain.PasswordAudit) error
}
