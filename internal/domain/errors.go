package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrVersionConflict  = errors.New("tenant was modified concurrently")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrTokenExists      = errors.New("token value already exists")
)

// IsTokenError reports whether err is one of the token rejection reasons. Callers facing
// end users must not tell these apart.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenAlreadyUsed)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// InvalidStateError is returned when a tenant's persisted fields contradict each other.
type InvalidStateError struct {
	TenantID string
	Reason   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("tenant %s is in an invalid state: %s", e.TenantID, e.Reason)
}

// TransientStoreError wraps a store failure that may succeed when retried.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// DeliveryError is returned when a notification could not be delivered.
type DeliveryError struct {
	Kind     NotificationKind
	TenantID string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %s to tenant %s: %v", e.Kind, e.TenantID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
