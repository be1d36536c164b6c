package memory

import (
	"context"
	"time"

	"credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/account/repository"
)

// Accounts implements the account repository.
type Accounts struct{ s *Store }

var _ repository.Repository = (*Accounts)(nil)

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func (r *Accounts) find(match func(*domain.Account) bool) *domain.Account {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if match(a) {
			return copyAccount(a)
		}
	}
	return nil
}

func (r *Accounts) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		return copyAccount(a), nil
	}
	return nil, nil
}

func (r *Accounts) GetByPublicID(_ context.Context, publicID string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.PublicID == publicID }), nil
}

func (r *Accounts) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.Email == email }), nil
}

func (r *Accounts) GetByPhone(_ context.Context, phone string) (*domain.Account, error) {
	if phone == "" {
		return nil, nil
	}
	return r.find(func(a *domain.Account) bool { return a.Phone == phone }), nil
}

func (r *Accounts) Create(_ context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.Email == a.Email {
			return repository.ErrEmailTaken
		}
		if a.Phone != "" && existing.Phone == a.Phone {
			return repository.ErrPhoneTaken
		}
	}
	a.ID = r.s.id()
	r.s.accounts[a.ID] = copyAccount(a)
	return nil
}

func (r *Accounts) ApplyTimeBlock(_ context.Context, id int64, blockedAt, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		a.BlockedAt, a.BlockedUntil = &blockedAt, &until
		a.BlockCount++
		a.UpdatedAt = blockedAt
	}
	return nil
}

func (r *Accounts) SetForeverBlocked(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok {
		a.ForeverBlocked = true
		a.BlockedAt = &at
		a.UpdatedAt = at
	}
	return nil
}

func (r *Accounts) ClearTimeBlock(_ context.Context, id int64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.accounts[id]; ok && a.TimeBlockExpired(now) {
		a.BlockedAt, a.BlockedUntil = nil, nil
	}
	return nil
}
