package domain

import (
	"errors"
	"strings"
	"time"
)

// Channel is the delivery channel of a challenge target.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// Target is where a one-time code is sent and what it is verified against.
type Target struct {
	Channel Channel
	Address string
}

// EmailTarget returns a normalized email target.
func EmailTarget(email string) Target {
	return Target{Channel: ChannelEmail, Address: strings.ToLower(strings.TrimSpace(email))}
}

// PhoneTarget returns a normalized phone target.
func PhoneTarget(phone string) Target {
	return Target{Channel: ChannelPhone, Address: strings.TrimSpace(phone)}
}

// Validate rejects targets with an unknown channel or empty address.
func (t Target) Validate() error {
	if t.Channel != ChannelEmail && t.Channel != ChannelPhone {
		return errors.New("unknown target channel")
	}
	if t.Address == "" {
		return errors.New("target address is required")
	}
	return nil
}

// Action is the flow a challenge was issued for.
type Action string

const (
	ActionRegister       Action = "register"
	ActionLogin          Action = "login"
	ActionForgotPassword Action = "forgot_password"
)

// Status is a challenge's lifecycle state. Only pending is non-terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
	StatusBlocked  Status = "blocked"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool { return s != StatusPending }

// Challenge is a one-time code issued to a target.
type Challenge struct {
	ID                int64
	Target            Target
	Code              string
	Action            Action
	Status            Status
	Attempts          int
	DeviceFingerprint string // empty when the request carried none
	ExpiresAt         time.Time
	CreatedAt         time.Time
	BlockedAt         *time.Time
	VerifiedAt        *time.Time
}

// Expired reports whether the challenge's TTL has elapsed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
