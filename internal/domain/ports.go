package domain

import (
	"context"
	"time"
)

// TenantRepository defines the persistence contract for tenants.
type TenantRepository interface {
	// Create inserts a tenant; the store assigns Version 1.
	Create(ctx context.Context, tenant Tenant) error
	GetByID(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context, filter ListFilter) ([]Tenant, error)
	// UpdateIfVersion writes tenant only if the stored version still equals
	// expectedVersion, returning ErrVersionConflict otherwise. On success the
	// returned tenant carries the new version.
	UpdateIfVersion(ctx context.Context, tenant Tenant, expectedVersion int64) (Tenant, error)
}

// ListFilter holds optional criteria for listing tenants.
type ListFilter struct {
	States []State
	Limit  int
	Offset int
}

// Matches reports whether the tenant passes the state filter.
func (f ListFilter) Matches(t Tenant) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if t.State == s {
			return true
		}
	}
	return false
}

// TokenRepository defines the persistence contract for tokens.
type TokenRepository interface {
	// InsertIfAbsent stores a new token, returning ErrTokenExists on a value collision.
	InsertIfAbsent(ctx context.Context, token Token) error
	Get(ctx context.Context, value string) (Token, error)
	// MarkUsed flips used to true only if it is still false, returning
	// ErrTokenAlreadyUsed when another caller got there first.
	MarkUsed(ctx context.Context, value string, usedAt time.Time, usedBy string) error
}

// Notifier delivers a notification about a tenant to its owner.
type Notifier interface {
	Send(ctx context.Context, kind NotificationKind, tenant Tenant) error
}

// EventPublisher defines the contract for emitting domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event, tenant Tenant) error
}

// TransitionValidator checks lifecycle events against the transition table.
type TransitionValidator interface {
	Apply(ctx context.Context, current State, event Event) (State, error)
	// Available lists the events legal from current, sorted by name.
	Available(current State) []Event
}
