// Package device binds accounts to the devices they sign in from.
package device

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/device/domain"
	"credential-lifecycle/internal/device/repository"
	"credential-lifecycle/internal/logger"
)

// Repo is the device persistence the binding service needs.
type Repo interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Device, error)
	Create(ctx context.Context, d *domain.Device) error
	GetLink(ctx context.Context, accountID, deviceID int64) (*domain.Link, error)
	CreateLink(ctx context.Context, l *domain.Link) error
}

// BindingService creates devices and account links on demand.
type BindingService struct {
	repo Repo
	log  *zap.Logger
	now  func() time.Time
}

// NewBindingService returns a BindingService backed by repo.
func NewBindingService(repo Repo, log *zap.Logger) *BindingService {
	return &BindingService{repo: repo, log: logger.OrNop(log), now: func() time.Time { return time.Now().UTC() }}
}

// BindForRegisterOrLogin returns the device for fingerprint, creating it and
// linking it to the account when either is missing. Repeated calls with the
// same inputs change nothing.
func (s *BindingService) BindForRegisterOrLogin(ctx context.Context, accountID int64, fingerprint, name string) (*domain.Device, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, apperr.Validation("Device fingerprint is required")
	}
	d, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if d == nil {
		if d, err = s.create(ctx, fingerprint, strings.TrimSpace(name)); err != nil {
			return nil, err
		}
	}
	link, err := s.repo.GetLink(ctx, accountID, d.ID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		if err := s.repo.CreateLink(ctx, &domain.Link{AccountID: accountID, DeviceID: d.ID, CreatedAt: s.now()}); err != nil {
			return nil, err
		}
		s.log.Info("device linked", zap.Int64("account_id", accountID), zap.String("device", logger.MaskFingerprint(fingerprint)))
	}
	return d, nil
}

// create inserts a device; losing a race to another writer returns the winner's row.
func (s *BindingService) create(ctx context.Context, fingerprint, name string) (*domain.Device, error) {
	d := &domain.Device{Fingerprint: fingerprint, Name: name, CreatedAt: s.now()}
	err := s.repo.Create(ctx, d)
	if errors.Is(err, repository.ErrFingerprintTaken) {
		existing, getErr := s.repo.GetByFingerprint(ctx, fingerprint)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}
