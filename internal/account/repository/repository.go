package repository

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/internal/account/domain"
)

// Errors returned by Create when a uniqueness constraint is hit.
var (
	ErrEmailTaken = errors.New("email already registered")
	ErrPhoneTaken = errors.New("phone already registered")
)

// Repository defines persistence for accounts. Get methods return (nil, nil)
// when no account matches.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByPublicID(ctx context.Context, publicID string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Account, error)
	// Create inserts a and sets a.ID.
	Create(ctx context.Context, a *domain.Account) error
	// ApplyTimeBlock sets blocked_at/blocked_until and increments block_count atomically.
	ApplyTimeBlock(ctx context.Context, id int64, blockedAt, until time.Time) error
	SetForeverBlocked(ctx context.Context, id int64, at time.Time) error
	ClearTimeBlock(ctx context.Context, id int64, now time.Time) error
}
