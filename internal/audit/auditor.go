// Package audit enforces password change cooldowns and records every change
// in an append-only audit trail written atomically with the new hash.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	accountdomain "credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/audit/domain"
	"credential-lifecycle/internal/audit/repository"
	"credential-lifecycle/internal/logger"
	"credential-lifecycle/internal/security"
	"credential-lifecycle/internal/telemetry"
)

// MsgChangeLimit rejects a forgot-password change near the end of the current change period.
const MsgChangeLimit = "Password change limit reached, try again after the current period ends"

// Repo is the audit persistence the auditor needs.
type Repo interface {
	Latest(ctx context.Context, accountID int64) (*domain.PasswordAudit, error)
	ChangePassword(ctx context.Context, accountID int64, passwordHash string, rec *domain.PasswordAudit) error
}

// Config holds the cooldown windows.
type Config struct {
	// ResetCooldown is the minimum time between self-service resets.
	ResetCooldown time.Duration
	// ChangePeriod is added to the change time to get the new period end.
	ChangePeriod time.Duration
	// ForgotGuard rejects forgot-password changes while the period end is closer than this.
	ForgotGuard time.Duration
}

// DefaultConfig is a 24 hour reset cooldown with 48 hour change periods.
func DefaultConfig() Config {
	return Config{ResetCooldown: 24 * time.Hour, ChangePeriod: 48 * time.Hour, ForgotGuard: 48 * time.Hour}
}

// Auditor changes passwords under the cooldown rules.
type Auditor struct {
	repo    Repo
	hasher  security.PasswordHasher
	cfg     Config
	emitter telemetry.EventEmitter
	log     *zap.Logger
	now     func() time.Time
}

// NewAuditor returns an Auditor. emitter may be nil.
func NewAuditor(repo Repo, hasher security.PasswordHasher, cfg Config, emitter telemetry.EventEmitter, log *zap.Logger) *Auditor {
	return &Auditor{
		repo:    repo,
		hasher:  hasher,
		cfg:     cfg,
		emitter: emitter,
		log:     logger.OrNop(log),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the auditor's clock. For tests.
func (a *Auditor) WithClock(now func() time.Time) *Auditor {
	a.now = now
	return a
}

// CheckCooldown reports whether a change of the given kind is allowed now, given the last audit record.
func (a *Auditor) CheckCooldown(last *domain.PasswordAudit, action domain.Action, now time.Time) error {
	if last == nil {
		return nil
	}
	switch action {
	case domain.ActionReset:
		if now.Sub(last.ChangedAt) < a.cfg.ResetCooldown {
			return apperr.Validation(fmt.Sprintf("Password can only be reset once every %d hours", int(a.cfg.ResetCooldown.Hours())))
		}
	case domain.ActionForgotPassword:
		if left := last.PeriodEnd.Sub(now); left > 0 && left < a.cfg.ForgotGuard {
			return apperr.Validation(MsgChangeLimit)
		}
	}
	return nil
}

// ChangePassword hashes newPassword and, if the cooldown allows, stores it
// together with a snapshot of acct taken before the change.
func (a *Auditor) ChangePassword(ctx context.Context, acct *accountdomain.Account, newPassword, fingerprint string, action domain.Action) error {
	last, err := a.repo.Latest(ctx, acct.ID)
	if err != nil {
		return err
	}
	now := a.now()
	if err := a.CheckCooldown(last, action, now); err != nil {
		return err
	}
	hash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	next := 1
	if last != nil {
		next = last.ChangeCount + 1
	}
	rec := &domain.PasswordAudit{
		Action:            action,
		ChangeCount:       next,
		ChangedAt:         now,
		PeriodEnd:         now.Add(a.cfg.ChangePeriod),
		DeviceFingerprint: fingerprint,
		Snapshot:          domain.SnapshotOf(acct),
	}
	if err := a.repo.ChangePassword(ctx, acct.ID, hash, rec); err != nil {
		if errors.Is(err, repository.ErrChangeConflict) {
			return apperr.Conflict("Another password change is in progress, please try again")
		}
		return err
	}
	a.log.Info("password changed",
		zap.Int64("account_id", acct.ID), zap.String("action", string(action)), zap.Int("change_count", next))

	ev := telemetry.NewEvent(telemetry.EventPasswordChanged, "audit", now).
		With("action", string(action)).
		With("change_count", strconv.Itoa(next))
	ev.AccountID = acct.PublicID
	ev.DeviceFingerprint = fingerprint
	telemetry.EmitAsync(a.emitter, ctx, ev)
	return nil
}
