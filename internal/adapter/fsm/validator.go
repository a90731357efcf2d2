package fsm

import (
	"context"
	"errors"
	"slices"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

var _ domain.TransitionValidator = (*Validator)(nil)

// events folds domain.Transitions into looplab/fsm descriptors, one per
// event+destination pair with every source state that reaches it (lock from
// TRIAL and FREE both go to LOCKED).
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type key struct {
		event string
		dst   string
	}
	sources := make(map[key][]string)
	var order []key

	for _, t := range domain.Transitions {
		k := key{event: string(t.Event), dst: string(t.Dst)}
		if _, seen := sources[k]; !seen {
			order = append(order, k)
		}
		sources[k] = append(sources[k], string(t.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{Name: k.event, Src: sources[k], Dst: k.dst})
	}
	return out
}

// Validator checks lifecycle events with looplab/fsm. looplab machines hold
// their own current state, so each call builds a throwaway machine.
type Validator struct{}

// New creates an FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply returns the state the event leads to from current, or a
// *domain.TransitionError when the table has no such edge.
func (v *Validator) Apply(ctx context.Context, current domain.State, event domain.Event) (domain.State, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	err := machine.Event(ctx, string(event))
	if err == nil {
		return domain.State(machine.Current()), nil
	}

	// FREE -> FREE is a legal edge; looplab reports it as "no transition".
	var noTransition loopfsm.NoTransitionError
	if errors.As(err, &noTransition) && noTransition.Err == nil {
		return current, nil
	}

	var invalidEvent loopfsm.InvalidEventError
	var unknownEvent loopfsm.UnknownEventError
	if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) {
		return "", &domain.TransitionError{Event: event, Current: current}
	}
	return "", err
}

// Available returns the events the table allows from current.
func (v *Validator) Available(current domain.State) []domain.Event {
	machine := loopfsm.NewFSM(string(current), events, nil)

	names := machine.AvailableTransitions()
	slices.Sort(names)

	out := make([]domain.Event, len(names))
	for i, name := range names {
		out[i] = domain.Event(name)
	}
	return out
}
