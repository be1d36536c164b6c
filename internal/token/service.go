// Package token issues access tokens and manages the refresh-token lifecycle.
// At most one refresh token per (account, device) is active; issuing a new one
// revokes the previous.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	accountdomain "credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/logger"
	"credential-lifecycle/internal/security"
	"credential-lifecycle/internal/telemetry"
	"credential-lifecycle/internal/token/domain"
	"credential-lifecycle/internal/token/repository"
)

// Refresh token verification failures.
const (
	MsgRefreshNotFound    = "Refresh token not found"
	MsgRefreshRevoked     = "Refresh token has been revoked"
	MsgRefreshWrongDevice = "Refresh token does not belong to this device"
	MsgRefreshExpired     = "Refresh token has expired"
	MsgAccessTokenInvalid = "Invalid or expired access token"
)

const (
	activeScanLimit  = 50
	revokedScanLimit = 10
	rotateRetries    = 3
)

// RefreshRepo is the refresh token persistence the service needs.
type RefreshRepo interface {
	Rotate(ctx context.Context, t *domain.RefreshToken, at time.Time) error
	ListByDevice(ctx context.Context, fingerprint string, revoked bool, limit int) ([]*domain.RefreshToken, error)
	RevokeActive(ctx context.Context, accountID int64, fingerprint string, at time.Time) (int64, error)
}

// AccountLookup resolves accounts by internal and public id.
type AccountLookup interface {
	GetByID(ctx context.Context, id int64) (*accountdomain.Account, error)
	GetByPublicID(ctx context.Context, publicID string) (*accountdomain.Account, error)
}

// Service issues, verifies and revokes tokens.
type Service struct {
	repo       RefreshRepo
	accounts   AccountLookup
	hasher     security.PasswordHasher
	provider   *security.TokenProvider
	refreshTTL time.Duration
	emitter    telemetry.EventEmitter
	log        *zap.Logger
	now        func() time.Time
	backoff    func() retry.Backoff
}

// NewService returns a token Service. emitter may be nil.
func NewService(
	repo RefreshRepo,
	accounts AccountLookup,
	hasher security.PasswordHasher,
	provider *security.TokenProvider,
	refreshTTL time.Duration,
	emitter telemetry.EventEmitter,
	log *zap.Logger,
) *Service {
	return &Service{
		repo:       repo,
		accounts:   accounts,
		hasher:     hasher,
		provider:   provider,
		refreshTTL: refreshTTL,
		emitter:    emitter,
		log:        logger.OrNop(log),
		now:        func() time.Time { return time.Now().UTC() },
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(rotateRetries, retry.NewExponential(10*time.Millisecond))
		},
	}
}

// WithClock replaces the service's clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueAccessToken signs a short-lived access token for the account and device.
func (s *Service) IssueAccessToken(publicID, fingerprint string) (string, time.Time, error) {
	return s.provider.IssueAccess(publicID, fingerprint)
}

// ValidateAccessToken returns the public account id and device fingerprint of
// a valid access token.
func (s *Service) ValidateAccessToken(token string) (publicID, fingerprint string, err error) {
	publicID, fingerprint, err = s.provider.ValidateAccess(token)
	if err != nil {
		return "", "", apperr.InvalidCredentials(MsgAccessTokenInvalid)
	}
	return publicID, fingerprint, nil
}

// IssueRefreshToken creates a refresh token for the pair, revoking any active
// one, and returns the raw secret. Only a bcrypt hash of the secret is stored.
// A concurrent rotation for the same pair is retried.
func (s *Service) IssueRefreshToken(ctx context.Context, publicID, fingerprint string) (string, error) {
	acct, err := s.accounts.GetByPublicID(ctx, publicID)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", errors.New("token: account not found for refresh token issue")
	}
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(security.DigestRefreshSecret(secret))
	if err != nil {
		return "", err
	}
	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		now := s.now()
		t := &domain.RefreshToken{
			AccountID:         acct.ID,
			DeviceFingerprint: fingerprint,
			TokenHash:         hash,
			ExpiresAt:         now.Add(s.refreshTTL),
			CreatedAt:         now,
		}
		err := s.repo.Rotate(ctx, t, now)
		if errors.Is(err, repository.ErrActiveTokenExists) {
			s.log.Debug("refresh rotation raced, retrying", zap.Int64("account_id", acct.ID))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}

// VerifyAndConsume finds the stored token matching secret on the device and
// returns its account. Active tokens are scanned first; recently revoked ones
// are scanned only to report a rotated-out token as revoked. The token stays
// valid until it expires or is revoked.
func (s *Service) VerifyAndConsume(ctx context.Context, secret, fingerprint string) (*accountdomain.Account, error) {
	if secret == "" || fingerprint == "" {
		return nil, apperr.InvalidCredentials(MsgRefreshNotFound)
	}
	digest := security.DigestRefreshSecret(secret)
	match, err := s.scan(ctx, digest, fingerprint, false, activeScanLimit)
	if err != nil {
		return nil, err
	}
	if match == nil {
		if match, err = s.scan(ctx, digest, fingerprint, true, revokedScanLimit); err != nil {
			return nil, err
		}
	}
	if match == nil {
		return nil, apperr.InvalidCredentials(MsgRefreshNotFound)
	}
	if match.Revoked {
		s.log.Warn("revoked refresh token presented",
			zap.Int64("account_id", match.AccountID), zap.String("device", logger.MaskFingerprint(fingerprint)))
		return nil, apperr.InvalidCredentials(MsgRefreshRevoked)
	}
	if match.DeviceFingerprint != fingerprint {
		return nil, apperr.InvalidCredentials(MsgRefreshWrongDevice)
	}
	if !s.now().Before(match.ExpiresAt) {
		return nil, apperr.InvalidCredentials(MsgRefreshExpired)
	}
	acct, err := s.accounts.GetByID(ctx, match.AccountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, apperr.InvalidCredentials(MsgRefreshNotFound)
	}
	return acct, nil
}

func (s *Service) scan(ctx context.Context, digest, fingerprint string, revoked bool, limit int) (*domain.RefreshToken, error) {
	tokens, err := s.repo.ListByDevice(ctx, fingerprint, revoked, limit)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if s.hasher.Verify(digest, t.TokenHash) {
			return t, nil
		}
	}
	return nil, nil
}

// RevokeForLogout revokes the pair's active refresh token.
func (s *Service) RevokeForLogout(ctx context.Context, publicID, fingerprint string) error {
	acct, err := s.accounts.GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if acct == nil {
		return apperr.InvalidCredentials(MsgRefreshNotFound)
	}
	now := s.now()
	n, err := s.repo.RevokeActive(ctx, acct.ID, fingerprint, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.InvalidCredentials(MsgRefreshNotFound)
	}
	ev := telemetry.NewEvent(telemetry.EventSessionRevoked, "token", now).With("reason", "logout")
	ev.AccountID = acct.PublicID
	ev.DeviceFingerprint = fingerprint
	telemetry.EmitAsync(s.emitter, ctx, ev)
	return nil
}
