package domain

import (
	"errors"
	"time"

	blockdomain "credential-lifecycle/internal/blocking/domain"
)

// Account is a registered identity. ID is the internal storage key and never
// leaves the engine; PublicID is the handle shared with clients.
type Account struct {
	ID            int64
	PublicID      string
	Email         string
	Phone         string // empty when not provided; unique when set
	PasswordHash  string
	Name          string
	BirthDate     *time.Time
	EmailVerified bool
	PhoneVerified bool
	blockdomain.State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields required before the account is persisted.
func (a *Account) Validate() error {
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PublicID == "" {
		return errors.New("public id is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
