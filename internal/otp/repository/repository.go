package repository

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/internal/otp/domain"
)

// Attempt reservation failures.
var (
	// ErrNotPending means the challenge was verified or expired.
	ErrNotPending = errors.New("challenge is not pending")
	// ErrAttemptsExhausted means the challenge used every attempt or was blocked.
	ErrAttemptsExhausted = errors.New("challenge attempts exhausted")
)

// Repository defines persistence for OTP challenges. Find methods return
// (nil, nil) when nothing matches.
type Repository interface {
	// Create inserts c and sets c.ID.
	Create(ctx context.Context, c *domain.Challenge) error
	// FindActive returns a pending, unexpired challenge for the target address or,
	// when fingerprint is non-empty, for the device.
	FindActive(ctx context.Context, target domain.Target, fingerprint string, now time.Time) (*domain.Challenge, error)
	// Latest returns the most recently issued challenge for the target.
	Latest(ctx context.Context, target domain.Target) (*domain.Challenge, error)
	// CountIssuedSince counts challenges created at or after since for any of the
	// non-empty identifiers.
	CountIssuedSince(ctx context.Context, email, phone, fingerprint string, since time.Time) (int, error)
	// ReserveAttempt atomically adds one to a pending challenge's attempt
	// counter, provided it is below max, and returns the new value. Every code
	// comparison must hold a reservation.
	ReserveAttempt(ctx context.Context, id int64, max int) (int, error)
	// Transition moves a pending challenge to a terminal status. It reports false
	// when the challenge was no longer pending.
	Transition(ctx context.Context, id int64, to domain.Status, at time.Time) (bool, error)
	// ExpireStale moves every pending challenge past its expiry to expired.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
