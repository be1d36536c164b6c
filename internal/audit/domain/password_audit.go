package domain

import (
	"time"

	accountdomain "credential-lifecycle/internal/account/domain"
)

// Action is the kind of password change being audited.
type Action string

const (
	ActionReset          Action = "reset"
	ActionForgotPassword Action = "forgot_password"
)

// Snapshot is the account state copied into an audit record at change time.
type Snapshot struct {
	Email         string
	Phone         string
	EmailVerified bool
	PhoneVerified bool
	Name          string
	BirthDate     *time.Time
}

// SnapshotOf copies the audited fields of a.
func SnapshotOf(a *accountdomain.Account) Snapshot {
	s := Snapshot{
		Email:         a.Email,
		Phone:         a.Phone,
		EmailVerified: a.EmailVerified,
		PhoneVerified: a.PhoneVerified,
		Name:          a.Name,
	}
	if a.BirthDate != nil {
		bd := *a.BirthDate
		s.BirthDate = &bd
	}
	return s
}

// PasswordAudit is an append-only record of one password change. ChangeCount
// starts at 1 and increases by one per account.
type PasswordAudit struct {
	ID                int64
	AccountID         int64
	Action            Action
	ChangeCount       int
	ChangedAt         time.Time
	PeriodEnd         time.Time
	DeviceFingerprint string
	Snapshot
}
