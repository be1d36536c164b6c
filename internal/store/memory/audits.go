package memory

import (
	"context"
	"errors"

	"credential-lifecycle/internal/audit/domain"
	"credential-lifecycle/internal/audit/repository"
)

// Audits implements the password audit repository. ChangePassword writes the
// account row and the audit record under the store lock.
type Audits struct{ s *Store }

var _ repository.Repository = (*Audits)(nil)

func (r *Audits) latestLocked(accountID int64) *domain.PasswordAudit {
	var latest *domain.PasswordAudit
	for _, a := range r.s.audits {
		if a.AccountID == accountID && (latest == nil || a.ChangeCount > latest.ChangeCount) {
			latest = a
		}
	}
	return latest
}

func (r *Audits) Latest(_ context.Context, accountID int64) (*domain.PasswordAudit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a := r.latestLocked(accountID); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *Audits) ChangePassword(_ context.Context, accountID int64, passwordHash string, rec *domain.PasswordAudit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acct, ok := r.s.accounts[accountID]
	if !ok {
		return errors.New("account not found")
	}
	for _, a := range r.s.audits {
		if a.AccountID == accountID && a.ChangeCount == rec.ChangeCount {
			return repository.ErrChangeConflict
		}
	}
	acct.PasswordHash = passwordHash
	acct.UpdatedAt = rec.ChangedAt
	rec.AccountID = accountID
	rec.ID = r.s.id()
	cp := *rec
	r.s.audits = append(r.s.audits, &cp)
	return nil
}
