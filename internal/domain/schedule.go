package domain

import (
	"errors"
	"fmt"
	"time"
)

// Day is a fixed 24h span. Lifecycle durations are absolute elapsed time, never calendar days.
const Day = 24 * time.Hour

// Phase is one configured time window of the lifecycle (trial, free, ...).
type Phase struct {
	Name            string
	Duration        time.Duration
	WarningLeadTime time.Duration
}

// WarningAt is the elapsed time into a phase instance of the given length at
// which its expiry warning fires.
func (p Phase) WarningAt(length time.Duration) time.Duration {
	if p.WarningLeadTime >= length {
		return 0
	}
	return length - p.WarningLeadTime
}

// Schedule is the ordered list of phases a tenant walks through before being locked.
// The first phase is the trial; every later phase is a free phase.
type Schedule struct {
	Phases []Phase
}

// DefaultSchedule is a 30 day trial followed by a single 30 day free period,
// each warning 3 days before it ends.
func DefaultSchedule() Schedule {
	return Schedule{Phases: []Phase{
		{Name: "trial", Duration: 30 * Day, WarningLeadTime: 3 * Day},
		{Name: "free", Duration: 30 * Day, WarningLeadTime: 3 * Day},
	}}
}

// Validate rejects schedules the engine cannot walk.
func (s Schedule) Validate() error {
	if len(s.Phases) == 0 {
		return errors.New("schedule has no phases")
	}
	seen := make(map[string]bool, len(s.Phases))
	for i, p := range s.Phases {
		if p.Name == "" {
			return fmt.Errorf("phase %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate phase name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Duration <= 0 {
			return fmt.Errorf("phase %q: duration must be positive", p.Name)
		}
		if p.WarningLeadTime < 0 {
			return fmt.Errorf("phase %q: warning lead time must not be negative", p.Name)
		}
	}
	return nil
}

// Next returns the phase following index i, if any.
func (s Schedule) Next(i int) (Phase, bool) {
	if i+1 >= len(s.Phases) {
		return Phase{}, false
	}
	return s.Phases[i+1], true
}

// WarningKind is the notification sent shortly before phase i expires.
func (s Schedule) WarningKind(i int) NotificationKind {
	return NotificationKind(s.Phases[i].Name + ".expiring")
}

// LockReason is recorded on a tenant locked because phase i ran out.
func (s Schedule) LockReason(i int) string {
	return s.Phases[i].Name + " expired"
}

// PhaseBoundary computes the end of a phase that starts at start and lasts duration.
//
// All lifecycle instants are normalised to UTC and durations are added as elapsed
// time, so the result does not depend on the weekday, the caller's time zone or
// daylight saving changes in between.
func PhaseBoundary(start time.Time, duration time.Duration) time.Time {
	return start.UTC().Add(duration)
}
