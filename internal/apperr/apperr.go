// Package apperr defines the user-facing error kinds returned by the auth flows.
// Every flow error carries a stable Kind and a human-readable message; the routing
// layer maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for callers of the auth flows.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindConflict           Kind = "conflict"
	KindValidation         Kind = "validation_failure"
	KindRateLimited        Kind = "rate_limited"
	KindBlocked            Kind = "blocked"
	KindDelivery           Kind = "delivery_failure"
	KindInternal           Kind = "internal"
)

// Scope names the entity a block applies to.
type Scope string

const (
	ScopeDevice  Scope = "device"
	ScopeAccount Scope = "account"
)

// GenericInternalMessage replaces Internal messages in production.
const GenericInternalMessage = "Something went wrong, please try again later"

// Error is a flow error with a stable kind.
type Error struct {
	Kind    Kind
	Message string

	// RemainingAttempts is set on incorrect OTP errors.
	RemainingAttempts int
	// Remaining is the time left on a temporary block.
	Remaining time.Duration
	// Permanent is true for forever-blocks.
	Permanent bool
	// Scope is set on Blocked errors.
	Scope Scope

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// New returns an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an Error of the given kind that keeps err as its cause for logging.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, cause: err}
}

func InvalidCredentials(msg string) *Error { return New(KindInvalidCredentials, msg) }
func Conflict(msg string) *Error           { return New(KindConflict, msg) }
func Validation(msg string) *Error         { return New(KindValidation, msg) }
func RateLimited(msg string) *Error        { return New(KindRateLimited, msg) }

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error { return Wrap(KindInternal, msg, err) }

// Delivery wraps a notification failure.
func Delivery(msg string, err error) *Error { return Wrap(KindDelivery, msg, err) }

// IncorrectCode reports an OTP mismatch with the attempts still allowed.
func IncorrectCode(remaining int) *Error {
	if remaining < 0 {
		remaining = 0
	}
	e := New(KindValidation, fmt.Sprintf("Incorrect OTP, %d attempts remaining", remaining))
	e.RemainingAttempts = remaining
	return e
}

// TemporarilyBlocked reports an active time-based block on scope.
func TemporarilyBlocked(scope Scope, remaining time.Duration) *Error {
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	e := New(KindBlocked, fmt.Sprintf("This %s is blocked, try again in %d minutes", scope, minutes))
	e.Remaining = remaining
	e.Scope = scope
	return e
}

// PermanentlyBlocked reports a forever-block on scope.
func PermanentlyBlocked(scope Scope) *Error {
	e := New(KindBlocked, fmt.Sprintf("This %s is permanently blocked", scope))
	e.Permanent = true
	e.Scope = scope
	return e
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// PublicMessage returns the message safe to show the caller. In production
// Internal errors are replaced with GenericInternalMessage.
func PublicMessage(err error, production bool) string {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		if production {
			return GenericInternalMessage
		}
		return err.Error()
	}
	if e.Kind == KindInternal && production {
		return GenericInternalMessage
	}
	return e.Message
}
