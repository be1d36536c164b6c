package repository

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/internal/token/domain"
)

// ErrActiveTokenExists is returned by Rotate when a concurrent rotation for the
// same account and device committed first.
var ErrActiveTokenExists = errors.New("an active refresh token already exists for this device")

// Repository defines persistence for refresh tokens.
type Repository interface {
	// Rotate revokes every active token for (t.AccountID, t.DeviceFingerprint) and
	// inserts t, atomically. It sets t.ID.
	Rotate(ctx context.Context, t *domain.RefreshToken, at time.Time) error
	// ListByDevice returns tokens for the device with the given revoked flag,
	// newest first, at most limit rows.
	ListByDevice(ctx context.Context, fingerprint string, revoked bool, limit int) ([]*domain.RefreshToken, error)
	// RevokeActive revokes the pair's tokens that are unrevoked and unexpired at
	// at, and returns how many were revoked.
	RevokeActive(ctx context.Context, accountID int64, fingerprint string, at time.Time) (int64, error)
}
