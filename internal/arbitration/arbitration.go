// Package arbitration tracks which device holds tempo master from the
// point of view of one participant, following the two-party
// announce/acknowledge handshake DJ Link devices use.
//
// Transition is pure. Arbiter wraps it with a lock for use from
// concurrent receive loops.
package arbitration

import (
	"errors"
	"fmt"
)

// ErrViolation marks an event that has no legitimate place in the current
// state. The state is left unchanged.
var ErrViolation = errors.New("arbitration: protocol violation")

// Role is the local participant's view of its own mastership.
type Role uint8

const (
	Unknown Role = iota
	NotMaster
	Master
	PendingHandoff
)

// Roles lists every role, for exporting gauges.
var Roles = []Role{Unknown, NotMaster, Master, PendingHandoff}

func (r Role) String() string {
	switch r {
	case Unknown:
		return "unknown"
	case NotMaster:
		return "not_master"
	case Master:
		return "master"
	case PendingHandoff:
		return "pending_handoff"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// NoDevice is the device number used for "no master known".
const NoDevice uint8 = 0

// State is one participant's arbitration state.
type State struct {
	Self      uint8
	Master    uint8
	Role      Role
	PendingTo uint8
}

// Initial returns the starting state for device self.
func Initial(self uint8) State {
	return State{Self: self}
}

func (s State) String() string {
	return fmt.Sprintf("self=%d role=%s master=%d pending_to=%d", s.Self, s.Role, s.Master, s.PendingTo)
}

// Event drives a transition.
type Event interface {
	event() string
}

// BecomeMaster is a mixer-issued command naming Target as the new master.
type BecomeMaster struct {
	From   uint8
	Target uint8
}

// HandoffRequest is an announcement by From that it wants mastership,
// addressed to To (the current master).
type HandoffRequest struct {
	From uint8
	To   uint8
}

// HandoffResponse is From's answer to To's announcement.
type HandoffResponse struct {
	From     uint8
	To       uint8
	Accepted bool
}

// TakeOver is a local decision to claim mastership.
type TakeOver struct{}

// HandoffAbandoned withdraws a pending announcement to To that could not
// be delivered.
type HandoffAbandoned struct {
	To uint8
}

// MasterObserved reports that Device is flagging itself master in its
// status packets.
type MasterObserved struct {
	Device uint8
}

func (BecomeMaster) event() string     { return "become_master" }
func (HandoffRequest) event() string   { return "handoff_request" }
func (HandoffResponse) event() string  { return "handoff_response" }
func (TakeOver) event() string         { return "take_over" }
func (HandoffAbandoned) event() string { return "handoff_abandoned" }
func (MasterObserved) event() string   { return "master_observed" }

// EventName returns a stable label for ev.
func EventName(ev Event) string {
	if ev == nil {
		return "nil"
	}
	return ev.event()
}

// Action is a packet the caller must send as a result of a transition.
type Action interface {
	action()
}

// SendHandoffRequest asks To to yield mastership.
type SendHandoffRequest struct {
	To uint8
}

// SendHandoffResponse accepts To's announcement.
type SendHandoffResponse struct {
	To uint8
}

func (SendHandoffRequest) action()  {}
func (SendHandoffResponse) action() {}

// Transition applies ev to s. On ErrViolation the returned state equals s.
func Transition(s State, ev Event) (State, []Action, error) {
	switch e := ev.(type) {
	case BecomeMaster:
		return becomeMaster(s, e)
	case HandoffRequest:
		return handoffRequest(s, e)
	case HandoffResponse:
		return handoffResponse(s, e)
	case TakeOver:
		return takeOver(s)
	case HandoffAbandoned:
		return handoffAbandoned(s, e)
	case MasterObserved:
		return masterObserved(s, e)
	default:
		return s, nil, fmt.Errorf("%w: unsupported event %T", ErrViolation, ev)
	}
}

func becomeMaster(s State, e BecomeMaster) (State, []Action, error) {
	if e.Target == NoDevice {
		return s, nil, fmt.Errorf("%w: become master without a target", ErrViolation)
	}
	if e.From == e.Target {
		// A mixer claims mastership through the handshake, never by
		// commanding itself.
		return s, nil, fmt.Errorf("%w: device %d targeted itself with become master", ErrViolation, e.From)
	}
	next := s
	next.Master = e.Target
	next.PendingTo = NoDevice
	if e.Target == s.Self {
		next.Role = Master
	} else {
		next.Role = NotMaster
	}
	return next, nil, nil
}

func takeOver(s State) (State, []Action, error) {
	switch s.Role {
	case Master, PendingHandoff:
		return s, nil, nil
	}
	if s.Master == NoDevice || s.Master == s.Self {
		next := s
		next.Role = Master
		next.Master = s.Self
		return next, nil, nil
	}
	next := s
	next.Role = PendingHandoff
	next.PendingTo = s.Master
	return next, []Action{SendHandoffRequest{To: s.Master}}, nil
}

func handoffAbandoned(s State, e HandoffAbandoned) (State, []Action, error) {
	if s.Role != PendingHandoff || e.To != s.PendingTo {
		return s, nil, fmt.Errorf("%w: abandon handoff to %d with no matching request (%s)", ErrViolation, e.To, s)
	}
	next := s
	next.Role = NotMaster
	next.PendingTo = NoDevice
	return next, nil, nil
}

func handoffRequest(s State, e HandoffRequest) (State, []Action, error) {
	if e.To != s.Self {
		return s, nil, nil
	}
	if e.From == s.Self {
		return s, nil, fmt.Errorf("%w: handoff request from self", ErrViolation)
	}
	if s.Role != Master {
		return s, nil, fmt.Errorf("%w: handoff request from %d while %s", ErrViolation, e.From, s.Role)
	}
	next := s
	next.Role = NotMaster
	next.Master = e.From
	return next, []Action{SendHandoffResponse{To: e.From}}, nil
}

func handoffResponse(s State, e HandoffResponse) (State, []Action, error) {
	if e.To != s.Self {
		return s, nil, nil
	}
	if s.Role != PendingHandoff || e.From != s.PendingTo {
		return s, nil, fmt.Errorf("%w: handoff response from %d with no matching request (%s)", ErrViolation, e.From, s)
	}
	next := s
	next.PendingTo = NoDevice
	if e.Accepted {
		next.Role = Master
		next.Master = s.Self
	} else {
		next.Role = NotMaster
	}
	return next, nil, nil
}

func masterObserved(s State, e MasterObserved) (State, []Action, error) {
	if e.Device == NoDevice || e.Device == s.Self {
		return s, nil, nil
	}
	switch s.Role {
	case Unknown, NotMaster:
		next := s
		next.Role = NotMaster
		next.Master = e.Device
		return next, nil, nil
	}
	// Master and PendingHandoff resolve only through the handshake; a
	// yielding master keeps its flag set until it has answered.
	return s, nil, nil
}
