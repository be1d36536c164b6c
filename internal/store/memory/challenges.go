package memory

import (
	"context"
	"errors"
	"time"

	"credential-lifecycle/internal/otp/domain"
	"credential-lifecycle/internal/otp/repository"
)

// Challenges implements the OTP challenge repository.
type Challenges struct{ s *Store }

var _ repository.Repository = (*Challenges)(nil)

func (r *Challenges) Create(_ context.Context, c *domain.Challenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = r.s.id()
	cp := *c
	r.s.challenges = append(r.s.challenges, &cp)
	return nil
}

// newest walks challenges from the most recent insert backwards.
func (r *Challenges) newest(match func(*domain.Challenge) bool) *domain.Challenge {
	for i := len(r.s.challenges) - 1; i >= 0; i-- {
		if c := r.s.challenges[i]; match(c) {
			cp := *c
			return &cp
		}
	}
	return nil
}

func (r *Challenges) FindActive(_ context.Context, target domain.Target, fingerprint string, now time.Time) (*domain.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.newest(func(c *domain.Challenge) bool {
		if c.Status != domain.StatusPending || !now.Before(c.ExpiresAt) {
			return false
		}
		return c.Target.Address == target.Address || (fingerprint != "" && c.DeviceFingerprint == fingerprint)
	}), nil
}

func (r *Challenges) Latest(_ context.Context, target domain.Target) (*domain.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.newest(func(c *domain.Challenge) bool { return c.Target == target }), nil
}

func (r *Challenges) CountIssuedSince(_ context.Context, email, phone, fingerprint string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.challenges {
		if c.CreatedAt.Before(since) {
			continue
		}
		if (email != "" && c.Target.Address == email) ||
			(phone != "" && c.Target.Address == phone) ||
			(fingerprint != "" && c.DeviceFingerprint == fingerprint) {
			n++
		}
	}
	return n, nil
}

func (r *Challenges) byID(id int64) *domain.Challenge {
	for _, c := range r.s.challenges {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *Challenges) ReserveAttempt(_ context.Context, id int64, max int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.byID(id)
	switch {
	case c == nil:
		return 0, repository.ErrNotPending
	case c.Status == domain.StatusBlocked:
		return 0, repository.ErrAttemptsExhausted
	case c.Status != domain.StatusPending:
		return 0, repository.ErrNotPending
	case c.Attempts >= max:
		return 0, repository.ErrAttemptsExhausted
	}
	c.Attempts++
	return c.Attempts, nil
}

func (r *Challenges) Transition(_ context.Context, id int64, to domain.Status, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, errors.New("otp: transition target must be terminal")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.byID(id)
	if c == nil || c.Status != domain.StatusPending {
		return false, nil
	}
	c.Status = to
	switch to {
	case domain.StatusBlocked:
		c.BlockedAt = &at
	case domain.StatusVerified:
		c.VerifiedAt = &at
	}
	return true, nil
}

func (r *Challenges) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, c := range r.s.challenges {
		if c.Status == domain.StatusPending && !now.Before(c.ExpiresAt) {
			c.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}
