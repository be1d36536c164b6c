// Package blocking enforces rate limits and escalating blocks on devices and
// accounts. Too many codes requested and too many wrong codes both end in
// Escalate; enough escalations turn into a forever-block.
package blocking

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	accountdomain "credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/blocking/domain"
	devicedomain "credential-lifecycle/internal/device/domain"
	"credential-lifecycle/internal/logger"
	"credential-lifecycle/internal/telemetry"
)

// blockStore is the block-state mutation surface shared by the account and device repositories.
type blockStore interface {
	ApplyTimeBlock(ctx context.Context, id int64, blockedAt, until time.Time) error
	SetForeverBlocked(ctx context.Context, id int64, at time.Time) error
	ClearTimeBlock(ctx context.Context, id int64, now time.Time) error
}

// AccountRepo is the account persistence the policy needs.
type AccountRepo interface {
	blockStore
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	GetByPhone(ctx context.Context, phone string) (*accountdomain.Account, error)
}

// DeviceRepo is the device persistence the policy needs.
type DeviceRepo interface {
	blockStore
	GetByFingerprint(ctx context.Context, fingerprint string) (*devicedomain.Device, error)
}

// IssuanceCounter counts issued OTP challenges.
type IssuanceCounter interface {
	CountIssuedSince(ctx context.Context, email, phone, fingerprint string, since time.Time) (int, error)
}

// Config holds the policy thresholds.
type Config struct {
	RateWindow         time.Duration
	MaxIssues          int
	BlockFor           time.Duration
	PermanentThreshold int
}

// DefaultConfig is 5 issues per 30 minutes, 1 hour blocks and a forever-block after 5 blocks.
func DefaultConfig() Config {
	return Config{RateWindow: 30 * time.Minute, MaxIssues: 5, BlockFor: time.Hour, PermanentThreshold: 5}
}

// Policy implements access checks, rate limiting and escalation.
type Policy struct {
	accounts AccountRepo
	devices  DeviceRepo
	issued   IssuanceCounter
	cfg      Config
	emitter  telemetry.EventEmitter
	log      *zap.Logger
	now      func() time.Time
}

// NewPolicy returns a Policy. emitter may be nil.
func NewPolicy(accounts AccountRepo, devices DeviceRepo, issued IssuanceCounter, cfg Config, emitter telemetry.EventEmitter, log *zap.Logger) *Policy {
	return &Policy{
		accounts: accounts,
		devices:  devices,
		issued:   issued,
		cfg:      cfg,
		emitter:  emitter,
		log:      logger.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the policy's clock. For tests.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// subject is one entity under a block check.
type subject struct {
	scope       apperr.Scope
	id          int64
	state       domain.State
	store       blockStore
	accountID   string
	fingerprint string
}

func (p *Policy) resolveDevice(ctx context.Context, fingerprint string) (*subject, error) {
	if fingerprint == "" {
		return nil, nil
	}
	d, err := p.devices.GetByFingerprint(ctx, fingerprint)
	if err != nil || d == nil {
		return nil, err
	}
	return &subject{scope: apperr.ScopeDevice, id: d.ID, state: d.State, store: p.devices, fingerprint: fingerprint}, nil
}

// resolveAccount looks the account up by email first, then by phone.
func (p *Policy) resolveAccount(ctx context.Context, email, phone string) (*subject, error) {
	var a *accountdomain.Account
	var err error
	if email != "" {
		if a, err = p.accounts.GetByEmail(ctx, email); err != nil {
			return nil, err
		}
	}
	if a == nil && phone != "" {
		if a, err = p.accounts.GetByPhone(ctx, phone); err != nil {
			return nil, err
		}
	}
	if a == nil {
		return nil, nil
	}
	return &subject{scope: apperr.ScopeAccount, id: a.ID, state: a.State, store: p.accounts, accountID: a.PublicID}, nil
}

// CheckAccess fails when the device or the account named by email/phone is
// blocked. A device never seen before is allowed. A lapsed time block is
// cleared on the way through.
func (p *Policy) CheckAccess(ctx context.Context, fingerprint, email, phone string) error {
	dev, err := p.resolveDevice(ctx, fingerprint)
	if err != nil {
		return err
	}
	if err := p.check(ctx, dev); err != nil {
		return err
	}
	if email == "" && phone == "" {
		return nil
	}
	acct, err := p.resolveAccount(ctx, email, phone)
	if err != nil {
		return err
	}
	return p.check(ctx, acct)
}

func (p *Policy) check(ctx context.Context, s *subject) error {
	if s == nil {
		return nil
	}
	now := p.now()
	if s.state.ForeverBlocked {
		return apperr.PermanentlyBlocked(s.scope)
	}
	if s.state.BlockCount >= p.cfg.PermanentThreshold {
		if err := s.store.SetForeverBlocked(ctx, s.id, now); err != nil {
			return err
		}
		p.log.Warn("forever-blocked after repeated escalations",
			zap.String("scope", string(s.scope)), zap.Int64("id", s.id), zap.Int("block_count", s.state.BlockCount))
		p.emit(ctx, s, now, nil)
		return apperr.PermanentlyBlocked(s.scope)
	}
	if active, remaining := s.state.TimeBlockActive(now); active {
		return apperr.TemporarilyBlocked(s.scope, remaining)
	}
	if s.state.TimeBlockExpired(now) {
		if err := s.store.ClearTimeBlock(ctx, s.id, now); err != nil {
			return err
		}
	}
	return nil
}

// CheckRateLimit fails and escalates when the identifiers already had
// MaxIssues codes issued within RateWindow.
func (p *Policy) CheckRateLimit(ctx context.Context, email, phone, fingerprint string) error {
	since := p.now().Add(-p.cfg.RateWindow)
	n, err := p.issued.CountIssuedSince(ctx, email, phone, fingerprint, since)
	if err != nil {
		return err
	}
	if n < p.cfg.MaxIssues {
		return nil
	}
	p.log.Warn("otp issuance rate exceeded",
		zap.String("email", logger.MaskEmail(email)), zap.String("phone", logger.MaskPhone(phone)),
		zap.String("device", logger.MaskFingerprint(fingerprint)), zap.Int("issued", n))
	if err := p.Escalate(ctx, email, phone, fingerprint); err != nil {
		return err
	}
	return apperr.RateLimited("Too many OTP requests, please try again later")
}

// Escalate time-blocks the device (if known) and the account (by email, else
// phone) for BlockFor, incrementing each block counter.
func (p *Policy) Escalate(ctx context.Context, email, phone, fingerprint string) error {
	now := p.now()
	until := now.Add(p.cfg.BlockFor)
	dev, err := p.resolveDevice(ctx, fingerprint)
	if err != nil {
		return err
	}
	acct, err := p.resolveAccount(ctx, email, phone)
	if err != nil {
		return err
	}
	for _, s := range []*subject{dev, acct} {
		if s == nil {
			continue
		}
		if err := s.store.ApplyTimeBlock(ctx, s.id, now, until); err != nil {
			return err
		}
		p.emit(ctx, s, now, &until)
	}
	return nil
}

func (p *Policy) emit(ctx context.Context, s *subject, now time.Time, until *time.Time) {
	eventType := telemetry.EventDeviceBlocked
	if s.scope == apperr.ScopeAccount {
		eventType = telemetry.EventAccountBlocked
	}
	ev := telemetry.NewEvent(eventType, "blocking", now).With("permanent", strconv.FormatBool(until == nil))
	if until != nil {
		ev.With("blocked_until", until.Format(time.RFC3339))
	}
	ev.AccountID = s.accountID
	ev.DeviceFingerprint = s.fingerprint
	telemetry.EmitAsync(p.emitter, ctx, ev)
}
