package domain

import (
	"testing"
	"time"
)

func TestState_TimeBlock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)

	var s State
	if active, _ := s.TimeBlockActive(now); active {
		t.Error("zero state should not be blocked")
	}
	if s.TimeBlockExpired(now) {
		t.Error("zero state should not report an expired block")
	}

	s.BlockedUntil = &until
	active, left := s.TimeBlockActive(now)
	if !active || left != 10*time.Minute {
		t.Errorf("TimeBlockActive = %v, %v; want true, 10m", active, left)
	}
	if s.TimeBlockExpired(now) {
		t.Error("active block reported as expired")
	}
	if active, _ := s.TimeBlockActive(until); active {
		t.Error("block should end exactly at BlockedUntil")
	}
	if !s.TimeBlockExpired(until.Add(time.Second)) {
		t.Error("lapsed block should report expired")
	}
}
