package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	if got := KindOf(Conflict("User already exists")); got != KindConflict {
		t.Errorf("KindOf(conflict) = %q, want %q", got, KindConflict)
	}
	wrapped := fmt.Errorf("outer: %w", RateLimited("slow down"))
	if got := KindOf(wrapped); got != KindRateLimited {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindRateLimited)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindInternal)
	}
}

func TestIncorrectCode(t *testing.T) {
	e := IncorrectCode(3)
	if e.Kind != KindValidation || e.RemainingAttempts != 3 {
		t.Fatalf("IncorrectCode(3) = %+v", e)
	}
	if e.Message != "Incorrect OTP, 3 attempts remaining" {
		t.Errorf("Message = %q", e.Message)
	}
	if got := IncorrectCode(-1).RemainingAttempts; got != 0 {
		t.Errorf("negative remaining clamped to %d, want 0", got)
	}
}

func TestTemporarilyBlocked_RoundsMinutesUp(t *testing.T) {
	e := TemporarilyBlocked(ScopeDevice, 90*time.Second)
	if e.Message != "This device is blocked, try again in 2 minutes" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Permanent {
		t.Error("temporary block must not be permanent")
	}
	if !PermanentlyBlocked(ScopeAccount).Permanent {
		t.Error("PermanentlyBlocked must set Permanent")
	}
}

func TestPublicMessage(t *testing.T) {
	internal := Internal("Failed to logout", errors.New("pq: connection reset"))
	if got := PublicMessage(internal, false); got != "Failed to logout" {
		t.Errorf("dev message = %q", got)
	}
	if got := PublicMessage(internal, true); got != GenericInternalMessage {
		t.Errorf("prod message = %q, want generic", got)
	}
	blocked := PermanentlyBlocked(ScopeDevice)
	if got := PublicMessage(blocked, true); got != blocked.Message {
		t.Errorf("prod blocked message = %q, want specific", got)
	}
	if got := PublicMessage(errors.New("raw"), true); got != GenericInternalMessage {
		t.Errorf("prod raw message = %q, want generic", got)
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("smtp down")
	e := Delivery("Failed to send OTP", cause)
	if !errors.Is(e, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !Is(e, KindDelivery) {
		t.Error("Is(KindDelivery) = false")
	}
}
