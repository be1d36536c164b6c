package repository

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/internal/device/domain"
)

// ErrFingerprintTaken is returned by Create when another writer created the
// same fingerprint first.
var ErrFingerprintTaken = errors.New("device fingerprint already exists")

// Repository defines persistence for devices and account links. Get methods
// return (nil, nil) when nothing matches.
type Repository interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Device, error)
	// Create inserts d and sets d.ID.
	Create(ctx context.Context, d *domain.Device) error
	GetLink(ctx context.Context, accountID, deviceID int64) (*domain.Link, error)
	// CreateLink is a no-op when the pair is already linked.
	CreateLink(ctx context.Context, l *domain.Link) error
	ApplyTimeBlock(ctx context.Context, id int64, blockedAt, until time.Time) error
	SetForeverBlocked(ctx context.Context, id int64, at time.Time) error
	ClearTimeBlock(ctx context.Context, id int64, now time.Time) error
}
