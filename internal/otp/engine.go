// Package otp issues and verifies one-time codes. A challenge moves from
// pending to exactly one of verified, expired or blocked and never back.
package otp

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/logger"
	"credential-lifecycle/internal/otp/domain"
	"credential-lifecycle/internal/otp/repository"
	"credential-lifecycle/internal/security"
)

// ChallengeRepo is the challenge persistence the engine needs.
type ChallengeRepo interface {
	Create(ctx context.Context, c *domain.Challenge) error
	FindActive(ctx context.Context, target domain.Target, fingerprint string, now time.Time) (*domain.Challenge, error)
	Latest(ctx context.Context, target domain.Target) (*domain.Challenge, error)
	ReserveAttempt(ctx context.Context, id int64, max int) (int, error)
	Transition(ctx context.Context, id int64, to domain.Status, at time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// Guard is the blocking policy consulted before issuing and verifying.
type Guard interface {
	CheckAccess(ctx context.Context, fingerprint, email, phone string) error
	CheckRateLimit(ctx context.Context, email, phone, fingerprint string) error
	Escalate(ctx context.Context, email, phone, fingerprint string) error
}

// Sender delivers a code to its target.
type Sender interface {
	SendCode(ctx context.Context, target domain.Target, code string) error
}

// Config holds the code lifetime and attempt limits.
type Config struct {
	TTL           time.Duration
	MaxAttempts   int
	NotifyTimeout time.Duration
}

// DefaultConfig is a 5 minute code with 5 attempts.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxAttempts: 5, NotifyTimeout: 10 * time.Second}
}

const (
	codeMin  = 100000
	codeSpan = 900000
)

// Messages for verification failures.
const (
	MsgNotFound    = "OTP not found"
	MsgExpired     = "OTP has expired"
	MsgMaxAttempts = "Maximum OTP attempts reached"
	MsgPending     = "An OTP has already been sent, please wait before requesting another"
)

// Engine issues and verifies challenges.
type Engine struct {
	repo   ChallengeRepo
	guard  Guard
	sender Sender
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
	intn   func(n int) int
}

// NewEngine returns an Engine drawing codes from math/rand/v2. Codes are shown
// to the user and verified server side, so they need no crypto-grade source.
func NewEngine(repo ChallengeRepo, guard Guard, sender Sender, cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		guard:  guard,
		sender: sender,
		cfg:    cfg,
		log:    logger.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
		intn:   rand.IntN,
	}
}

// WithClock replaces the engine's clock. For tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRand replaces the code draw. intn must return a value in [0, n).
func (e *Engine) WithRand(intn func(n int) int) *Engine {
	e.intn = intn
	return e
}

// identityHints maps a target to the email/phone pair used by the blocking policy.
func identityHints(t domain.Target) (email, phone string) {
	if t.Channel == domain.ChannelEmail {
		return t.Address, ""
	}
	return "", t.Address
}

// Issue checks the blocking policy, persists a new pending challenge and
// delivers its code. The challenge is stored before delivery, so a delivery
// failure leaves a valid challenge behind.
func (e *Engine) Issue(ctx context.Context, target domain.Target, action domain.Action, fingerprint string) (string, error) {
	if err := target.Validate(); err != nil {
		return "", apperr.Validation(err.Error())
	}
	email, phone := identityHints(target)
	if err := e.guard.CheckAccess(ctx, fingerprint, email, phone); err != nil {
		return "", err
	}
	if err := e.guard.CheckRateLimit(ctx, email, phone, fingerprint); err != nil {
		return "", err
	}
	now := e.now()
	active, err := e.repo.FindActive(ctx, target, fingerprint, now)
	if err != nil {
		return "", err
	}
	if active != nil {
		return "", apperr.Conflict(MsgPending)
	}

	c := &domain.Challenge{
		Target:            target,
		Code:              fmt.Sprintf("%06d", codeMin+e.intn(codeSpan)),
		Action:            action,
		Status:            domain.StatusPending,
		DeviceFingerprint: fingerprint,
		ExpiresAt:         now.Add(e.cfg.TTL),
		CreatedAt:         now,
	}
	if err := e.repo.Create(ctx, c); err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()
	if err := e.sender.SendCode(sendCtx, target, c.Code); err != nil {
		e.log.Error("otp delivery failed",
			zap.String("channel", string(target.Channel)),
			zap.String("target", logger.MaskTarget(target.Address)),
			zap.Int64("challenge_id", c.ID),
			zap.Error(err))
		return "", apperr.Delivery("Failed to send OTP, please try again", err)
	}
	e.log.Info("otp issued",
		zap.String("action", string(action)),
		zap.String("target", logger.MaskTarget(target.Address)),
		zap.Int64("challenge_id", c.ID))
	return c.Code, nil
}

// Verify checks code against the newest challenge for target. The challenge
// must have been issued for action. Every comparison first reserves one of
// MaxAttempts attempts; once none are left the challenge is blocked and the
// blocking policy escalates, whatever code is submitted.
func (e *Engine) Verify(ctx context.Context, target domain.Target, action domain.Action, code, fingerprint string) error {
	email, phone := identityHints(target)
	if err := e.guard.CheckAccess(ctx, fingerprint, email, phone); err != nil {
		return err
	}
	c, err := e.repo.Latest(ctx, target)
	if err != nil {
		return err
	}
	if c == nil || c.Action != action {
		return apperr.Validation(MsgNotFound)
	}
	now := e.now()

	switch c.Status {
	case domain.StatusVerified:
		return apperr.Validation(MsgNotFound)
	case domain.StatusExpired:
		return apperr.Validation(MsgExpired)
	case domain.StatusBlocked:
		return apperr.Validation(MsgMaxAttempts)
	}

	if c.Expired(now) {
		if _, err := e.repo.Transition(ctx, c.ID, domain.StatusExpired, now); err != nil {
			return err
		}
		return apperr.Validation(MsgExpired)
	}

	attempts, err := e.repo.ReserveAttempt(ctx, c.ID, e.cfg.MaxAttempts)
	switch {
	case errors.Is(err, repository.ErrAttemptsExhausted):
		return e.exhaust(ctx, c, email, phone, fingerprint, now)
	case errors.Is(err, repository.ErrNotPending):
		return apperr.Validation(MsgNotFound)
	case err != nil:
		return err
	}

	if !security.CodesEqual(code, c.Code) {
		return apperr.IncorrectCode(e.cfg.MaxAttempts - attempts)
	}
	ok, err := e.repo.Transition(ctx, c.ID, domain.StatusVerified, now)
	if err != nil {
		return err
	}
	if !ok {
		// consumed by a concurrent verify
		return apperr.Validation(MsgNotFound)
	}
	return nil
}

// exhaust blocks c and escalates. Only the caller that moves c to blocked
// escalates, so racing verifies add one block between them.
func (e *Engine) exhaust(ctx context.Context, c *domain.Challenge, email, phone, fingerprint string, now time.Time) error {
	ok, err := e.repo.Transition(ctx, c.ID, domain.StatusBlocked, now)
	if err != nil {
		return err
	}
	if ok {
		fp := fingerprint
		if fp == "" {
			fp = c.DeviceFingerprint
		}
		e.log.Warn("otp attempts exhausted",
			zap.String("target", logger.MaskTarget(c.Target.Address)), zap.Int64("challenge_id", c.ID))
		if err := e.guard.Escalate(ctx, email, phone, fp); err != nil {
			return err
		}
	}
	return apperr.Validation(MsgMaxAttempts)
}

// ExpireStale moves every pending challenge past its expiry to expired.
func (e *Engine) ExpireStale(ctx context.Context) (int64, error) {
	n, err := e.repo.ExpireStale(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("expired stale otp challenges", zap.Int64("count", n))
	}
	return n, nil
}
