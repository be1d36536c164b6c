package memory

import (
	"context"
	"time"

	"credential-lifecycle/internal/device/domain"
	"credential-lifecycle/internal/device/repository"
)

// Devices implements the device repository.
type Devices struct{ s *Store }

var _ repository.Repository = (*Devices)(nil)

func (r *Devices) GetByFingerprint(_ context.Context, fingerprint string) (*domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.devices {
		if d.Fingerprint == fingerprint {
			c := *d
			return &c, nil
		}
	}
	return nil, nil
}

func (r *Devices) Create(_ context.Context, d *domain.Device) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.devices {
		if existing.Fingerprint == d.Fingerprint {
			return repository.ErrFingerprintTaken
		}
	}
	d.ID = r.s.id()
	c := *d
	r.s.devices[d.ID] = &c
	return nil
}

func (r *Devices) GetLink(_ context.Context, accountID, deviceID int64) (*domain.Link, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l, ok := r.s.links[linkKey{accountID, deviceID}]; ok {
		c := *l
		return &c, nil
	}
	return nil, nil
}

func (r *Devices) CreateLink(_ context.Context, l *domain.Link) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := linkKey{l.AccountID, l.DeviceID}
	if _, ok := r.s.links[k]; !ok {
		c := *l
		r.s.links[k] = &c
	}
	return nil
}

func (r *Devices) ApplyTimeBlock(_ context.Context, id int64, blockedAt, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d, ok := r.s.devices[id]; ok {
		d.BlockedAt, d.BlockedUntil = &blockedAt, &until
		d.BlockCount++
	}
	return nil
}

func (r *Devices) SetForeverBlocked(_ context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d, ok := r.s.devices[id]; ok {
		d.ForeverBlocked = true
		d.BlockedAt = &at
	}
	return nil
}

func (r *Devices) ClearTimeBlock(_ context.Context, id int64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d, ok := r.s.devices[id]; ok && d.TimeBlockExpired(now) {
		d.BlockedAt, d.BlockedUntil = nil, nil
	}
	return nil
}
