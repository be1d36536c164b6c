package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	EventDeviceBlocked   = "device.blocked"
	EventAccountBlocked  = "account.blocked"
	EventPasswordChanged = "password.changed"
	EventSessionRevoked  = "session.revoked"
)

// Event is a lifecycle event. AccountID carries the public account id; the
// internal id never leaves the engine.
type Event struct {
	ID                string            `json:"id"`
	Type              string            `json:"event_type"`
	Source            string            `json:"source"`
	AccountID         string            `json:"account_id,omitempty"`
	DeviceFingerprint string            `json:"device_fingerprint,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// NewEvent returns an event with a fresh id stamped at now.
func NewEvent(eventType, source string, now time.Time) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		CreatedAt: now.UTC(),
	}
}

// With sets an attribute and returns e for chaining.
func (e *Event) With(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}
