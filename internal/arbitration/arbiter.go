package arbitration

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/prolink/internal/observability"
)

var roleLabels = func() []string {
	out := make([]string, len(Roles))
	for i, r := range Roles {
		out[i] = r.String()
	}
	return out
}()

// Arbiter serializes transitions for one participant.
type Arbiter struct {
	mu     sync.Mutex
	state  State
	logger zerolog.Logger
}

func NewArbiter(self uint8, logger zerolog.Logger) *Arbiter {
	a := &Arbiter{state: Initial(self), logger: logger}
	observability.RecordRole(a.state.Role.String(), roleLabels)
	return a
}

// State returns a copy of the current state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Rebind changes the local device number, resetting to the initial state.
// Used after a device number conflict.
func (a *Arbiter) Rebind(self uint8) {
	a.mu.Lock()
	a.state = Initial(self)
	a.mu.Unlock()
	observability.RecordRole(Unknown.String(), roleLabels)
}

// Apply runs ev through Transition and returns the actions to perform.
// Violations are logged and counted; the state is unchanged.
func (a *Arbiter) Apply(ev Event) ([]Action, error) {
	a.mu.Lock()
	prev := a.state
	next, actions, err := Transition(prev, ev)
	a.state = next
	a.mu.Unlock()

	name := EventName(ev)
	if err != nil {
		observability.RecordArbitration(name, "violation")
		if errors.Is(err, ErrViolation) {
			a.logger.Warn().Err(err).Str("event", name).Msg("unexpected arbitration event")
		}
		return nil, err
	}
	observability.RecordArbitration(name, "ok")
	if next.Role != prev.Role {
		observability.RecordRole(next.Role.String(), roleLabels)
		a.logger.Info().
			Str("event", name).
			Stringer("from", prev.Role).
			Stringer("to", next.Role).
			Uint8("master", next.Master).
			Msg("role changed")
	}
	return actions, nil
}
