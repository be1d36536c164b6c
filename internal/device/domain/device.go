package domain

import (
	"time"

	blockdomain "credential-lifecycle/internal/blocking/domain"
)

// Device is a client device identified by its fingerprint. The fingerprint is
// globally unique and never changes after creation.
type Device struct {
	ID          int64
	Fingerprint string
	Name        string
	blockdomain.State
	CreatedAt time.Time
}

// Link joins an account to a device it has signed in from.
type Link struct {
	AccountID int64
	DeviceID  int64
	CreatedAt time.Time
}
