package domain

import (
	"fmt"
	"time"
)

// State represents the subscription lifecycle state of a tenant.
type State string

const (
	StateTrial  State = "TRIAL"
	StateFree   State = "FREE"
	StateLocked State = "LOCKED"
	StateActive State = "ACTIVE"
)

// Valid reports whether s is one of the known lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateTrial, StateFree, StateLocked, StateActive:
		return true
	}
	return false
}

// Terminal reports whether the lifecycle engine leaves tenants in s untouched.
func (s State) Terminal() bool {
	return s == StateLocked || s == StateActive
}

// Event represents an action that triggers a state transition.
type Event string

const (
	EventEnterFree Event = "enter_free"
	EventLock      Event = "lock"
	EventActivate  Event = "activate"
)

// Transition defines a valid state change: an event moves a tenant from Src to Dst.
type Transition struct {
	Event Event
	Src   State
	Dst   State
}

// Transitions defines all valid state changes in the subscription lifecycle.
// FREE -> FREE is a self-transition: a tenant moving from one free phase to the next.
var Transitions = []Transition{
	{Event: EventEnterFree, Src: StateTrial, Dst: StateFree},
	{Event: EventEnterFree, Src: StateFree, Dst: StateFree},
	{Event: EventLock, Src: StateTrial, Dst: StateLocked},
	{Event: EventLock, Src: StateFree, Dst: StateLocked},
	{Event: EventActivate, Src: StateTrial, Dst: StateActive},
	{Event: EventActivate, Src: StateFree, Dst: StateActive},
	{Event: EventActivate, Src: StateLocked, Dst: StateActive},
}

// Tenant is one customer organization whose subscription lifecycle is managed here.
type Tenant struct {
	ID                  string
	Name                string
	State               State
	PhaseIndex          int
	PhaseStartAt        time.Time
	PhaseEndAt          time.Time
	WarningSentForPhase bool
	LockedAt            *time.Time
	LockedReason        string
	OwnerID             string
	OwnerEmail          string

	// Version is bumped by the store on every write and guards conditional updates.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTenant creates a tenant at the start of the first phase of the schedule.
func NewTenant(id, name, ownerID, ownerEmail string, schedule Schedule, now time.Time) Tenant {
	now = now.UTC()
	return Tenant{
		ID:           id,
		Name:         name,
		State:        StateTrial,
		PhaseIndex:   0,
		PhaseStartAt: now,
		PhaseEndAt:   PhaseBoundary(now, schedule.Phases[0].Duration),
		OwnerID:      ownerID,
		OwnerEmail:   ownerEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PhaseLength is the configured length of the phase instance the tenant occupies.
func (t Tenant) PhaseLength() time.Duration {
	return t.PhaseEndAt.Sub(t.PhaseStartAt)
}

// Validate checks the tenant's fields for consistency with each other and with the schedule.
func (t Tenant) Validate(schedule Schedule) error {
	invalid := func(format string, args ...any) error {
		return &InvalidStateError{TenantID: t.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if !t.State.Valid() {
		return invalid("unknown lifecycle state %q", t.State)
	}
	if (t.State == StateLocked) != (t.LockedAt != nil) {
		return invalid("state %s with lockedAt set=%t", t.State, t.LockedAt != nil)
	}
	if t.State != StateLocked && t.LockedReason != "" {
		return invalid("lockedReason set on %s tenant", t.State)
	}
	if t.State.Terminal() {
		return nil
	}

	if t.PhaseIndex < 0 || t.PhaseIndex >= len(schedule.Phases) {
		return invalid("phase index %d outside schedule of %d phases", t.PhaseIndex, len(schedule.Phases))
	}
	if (t.State == StateTrial) != (t.PhaseIndex == 0) {
		return invalid("state %s does not match phase index %d", t.State, t.PhaseIndex)
	}
	if !t.PhaseEndAt.After(t.PhaseStartAt) {
		return invalid("phase end %s not after start %s", t.PhaseEndAt, t.PhaseStartAt)
	}
	return nil
}
