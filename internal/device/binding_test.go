package device

import (
	"context"
	"sync"
	"testing"

	"credential-lifecycle/internal/apperr"
	"credential-lifecycle/internal/device/domain"
	"credential-lifecycle/internal/device/repository"
	"credential-lifecycle/internal/store/memory"
)

func TestBindForRegisterOrLogin_CreatesDeviceAndLink(t *testing.T) {
	store := memory.New()
	svc := NewBindingService(store.Devices(), nil)
	ctx := context.Background()

	d, err := svc.BindForRegisterOrLogin(ctx, 1, " fp-1 ", "Pixel")
	if err != nil {
		t.Fatalf("BindForRegisterOrLogin: %v", err)
	}
	if d.Fingerprint != "fp-1" || d.Name != "Pixel" || d.ID == 0 {
		t.Errorf("device = %+v", d)
	}
	link, _ := store.Devices().GetLink(ctx, 1, d.ID)
	if link == nil {
		t.Fatal("link should exist")
	}
}

func TestBindForRegisterOrLogin_Idempotent(t *testing.T) {
	store := memory.New()
	svc := NewBindingService(store.Devices(), nil)
	ctx := context.Background()

	first, err := svc.BindForRegisterOrLogin(ctx, 1, "fp-1", "Pixel")
	if err != nil {
		t.Fatalf("first bind: %v", err)
	}
	second, err := svc.BindForRegisterOrLogin(ctx, 1, "fp-1", "Renamed")
	if err != nil {
		t.Fatalf("second bind: %v", err)
	}
	if first.ID != second.ID || second.Name != "Pixel" {
		t.Errorf("second bind returned %+v, want the original device", second)
	}

	// a second account shares the device
	other, err := svc.BindForRegisterOrLogin(ctx, 2, "fp-1", "")
	if err != nil {
		t.Fatalf("bind second account: %v", err)
	}
	if other.ID != first.ID {
		t.Errorf("device id = %d, want %d", other.ID, first.ID)
	}
}

func TestBindForRegisterOrLogin_RequiresFingerprint(t *testing.T) {
	svc := NewBindingService(memory.New().Devices(), nil)
	_, err := svc.BindForRegisterOrLogin(context.Background(), 1, "  ", "")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

// racingRepo reports the device missing once, so Create collides with a row
// another writer inserted.
type racingRepo struct {
	*memory.Devices
	once sync.Once
}

func (r *racingRepo) GetByFingerprint(ctx context.Context, fp string) (*domain.Device, error) {
	var hide bool
	r.once.Do(func() { hide = true })
	if hide {
		return nil, nil
	}
	return r.Devices.GetByFingerprint(ctx, fp)
}

func TestBindForRegisterOrLogin_LostCreateRace(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	winner := &domain.Device{Fingerprint: "fp-1"}
	if err := store.Devices().Create(ctx, winner); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Devices().Create(ctx, &domain.Device{Fingerprint: "fp-1"}); err != repository.ErrFingerprintTaken {
		t.Fatalf("duplicate create = %v", err)
	}

	svc := NewBindingService(&racingRepo{Devices: store.Devices()}, nil)
	d, err := svc.BindForRegisterOrLogin(ctx, 1, "fp-1", "")
	if err != nil {
		t.Fatalf("BindForRegisterOrLogin: %v", err)
	}
	if d.ID != winner.ID {
		t.Errorf("device id = %d, want winner %d", d.ID, winner.ID)
	}
}
