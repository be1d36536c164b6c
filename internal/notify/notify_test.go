package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"credential-lifecycle/internal/devotp"
	otpdomain "credential-lifecycle/internal/otp/domain"
)

type recordingSender struct {
	to, code string
	err      error
}

func (s *recordingSender) SendOTP(_ context.Context, to, code string) error {
	s.to, s.code = to, code
	return s.err
}

func TestDirectChannel_RoutesByChannel(t *testing.T) {
	mail, text := &recordingSender{}, &recordingSender{}
	ch := NewDirectChannel(mail, text)
	ctx := context.Background()

	if err := ch.SendCode(ctx, otpdomain.EmailTarget("user@example.com"), "111111"); err != nil {
		t.Fatalf("email: %v", err)
	}
	if err := ch.SendCode(ctx, otpdomain.PhoneTarget("+15550001111"), "222222"); err != nil {
		t.Fatalf("sms: %v", err)
	}
	if mail.to != "user@example.com" || mail.code != "111111" {
		t.Errorf("email sender got %q/%q", mail.to, mail.code)
	}
	if text.to != "+15550001111" || text.code != "222222" {
		t.Errorf("sms sender got %q/%q", text.to, text.code)
	}
}

func TestDirectChannel_Unconfigured(t *testing.T) {
	ch := NewDirectChannel(nil, nil)
	if err := ch.SendCode(context.Background(), otpdomain.EmailTarget("a@x.com"), "1"); err == nil {
		t.Error("email without sender should fail")
	}
	if err := ch.SendCode(context.Background(), otpdomain.PhoneTarget("+1555"), "1"); err == nil {
		t.Error("sms without sender should fail")
	}
	if err := ch.SendCode(context.Background(), otpdomain.Target{Channel: "fax", Address: "1"}, "1"); err == nil {
		t.Error("unknown channel should fail")
	}
}

func TestDirectChannel_PropagatesError(t *testing.T) {
	boom := errors.New("provider down")
	ch := NewDirectChannel(&recordingSender{err: boom}, nil)
	if err := ch.SendCode(context.Background(), otpdomain.EmailTarget("a@x.com"), "1"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestDevChannel_CapturesCode(t *testing.T) {
	store := devotp.NewMemoryStore()
	ch := NewDevChannel(store, 5*time.Minute, nil)
	ctx := context.Background()

	if err := ch.SendCode(ctx, otpdomain.EmailTarget("user@example.com"), "123456"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code, ok, err := store.Get(ctx, "user@example.com")
	if err != nil || !ok || code != "123456" {
		t.Fatalf("captured = %q, %v, %v", code, ok, err)
	}
}

func TestMemoryChannel(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := context.Background()
	_ = ch.SendCode(ctx, otpdomain.EmailTarget("a@x.com"), "111111")
	_ = ch.SendCode(ctx, otpdomain.EmailTarget("a@x.com"), "222222")

	if code, ok := ch.Last("a@x.com"); !ok || code != "222222" {
		t.Errorf("Last = %q, %v", code, ok)
	}
	if _, ok := ch.Last("b@x.com"); ok {
		t.Error("Last for unknown address should miss")
	}
	if len(ch.Sent()) != 2 {
		t.Errorf("Sent = %d jobs, want 2", len(ch.Sent()))
	}

	ch.Err = errors.New("down")
	if err := ch.SendCode(ctx, otpdomain.EmailTarget("a@x.com"), "3"); err == nil {
		t.Error("Err should fail the send")
	}
}
