package memory

import (
	"context"
	"time"

	"credential-lifecycle/internal/token/domain"
	"credential-lifecycle/internal/token/repository"
)

// Tokens implements the refresh token repository.
type Tokens struct{ s *Store }

var _ repository.Repository = (*Tokens)(nil)

func (r *Tokens) revokeLocked(accountID int64, fingerprint string, at time.Time) int64 {
	var n int64
	for _, t := range r.s.tokens {
		if t.AccountID == accountID && t.DeviceFingerprint == fingerprint && !t.Revoked {
			t.Revoked = true
			revokedAt := at
			t.RevokedAt = &revokedAt
			n++
		}
	}
	return n
}

func (r *Tokens) Rotate(_ context.Context, t *domain.RefreshToken, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.revokeLocked(t.AccountID, t.DeviceFingerprint, at)
	t.ID = r.s.id()
	t.Revoked, t.RevokedAt = false, nil
	cp := *t
	r.s.tokens = append(r.s.tokens, &cp)
	return nil
}

func (r *Tokens) ListByDevice(_ context.Context, fingerprint string, revoked bool, limit int) ([]*domain.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.RefreshToken
	for i := len(r.s.tokens) - 1; i >= 0 && len(out) < limit; i-- {
		t := r.s.tokens[i]
		if t.DeviceFingerprint == fingerprint && t.Revoked == revoked {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Tokens) RevokeActive(_ context.Context, accountID int64, fingerprint string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, t := range r.s.tokens {
		if t.AccountID == accountID && t.DeviceFingerprint == fingerprint && !t.Revoked && t.ExpiresAt.After(at) {
			t.Revoked = true
			revokedAt := at
			t.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}
