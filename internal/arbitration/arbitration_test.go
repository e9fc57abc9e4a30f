package arbitration

import (
	"errors"
	"testing"

	"github.com/danmuck/prolink/internal/testutil/testlog"
)

func TestBecomeMasterTargets(t *testing.T) {
	testlog.Start(t)
	s := Initial(2)

	next, actions, err := Transition(s, BecomeMaster{From: 33, Target: 2})
	if err != nil || len(actions) != 0 {
		t.Fatalf("unexpected result: %v %v", actions, err)
	}
	if next.Role != Master || next.Master != 2 {
		t.Fatalf("expected master, got %s", next)
	}

	next, _, err = Transition(next, BecomeMaster{From: 33, Target: 3})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.Role != NotMaster || next.Master != 3 {
		t.Fatalf("expected not master following 3, got %s", next)
	}
}

func TestBecomeMasterSelfTargetIsViolation(t *testing.T) {
	testlog.Start(t)
	s := State{Self: 2, Master: 3, Role: NotMaster}
	next, _, err := Transition(s, BecomeMaster{From: 33, Target: 33})
	if !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
	if next != s {
		t.Fatalf("state must be unchanged, got %s", next)
	}
}

func TestTakeOverFromNotMaster(t *testing.T) {
	testlog.Start(t)
	s := State{Self: 3, Master: 2, Role: NotMaster}
	next, actions, err := Transition(s, TakeOver{})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.Role != PendingHandoff || next.PendingTo != 2 {
		t.Fatalf("expected pending handoff to 2, got %s", next)
	}
	if len(actions) != 1 || actions[0] != (SendHandoffRequest{To: 2}) {
		t.Fatalf("expected handoff request to 2, got %v", actions)
	}

	again, actions, err := Transition(next, TakeOver{})
	if err != nil || len(actions) != 0 || again != next {
		t.Fatalf("repeated take over should be a no-op: %s %v %v", again, actions, err)
	}
}

func TestTakeOverWithNoKnownMaster(t *testing.T) {
	testlog.Start(t)
	next, actions, err := Transition(Initial(5), TakeOver{})
	if err != nil || len(actions) != 0 {
		t.Fatalf("unexpected result: %v %v", actions, err)
	}
	if next.Role != Master || next.Master != 5 {
		t.Fatalf("expected immediate master, got %s", next)
	}
}

func TestViolationsLeaveStateUnchanged(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		s    State
		ev   Event
	}{
		{name: "ack without request", s: State{Self: 2, Master: 3, Role: NotMaster}, ev: HandoffResponse{From: 3, To: 2, Accepted: true}},
		{name: "ack from wrong device", s: State{Self: 2, Master: 3, Role: PendingHandoff, PendingTo: 3}, ev: HandoffResponse{From: 4, To: 2, Accepted: true}},
		{name: "request while not master", s: State{Self: 2, Master: 3, Role: NotMaster}, ev: HandoffRequest{From: 4, To: 2}},
		{name: "request while unknown", s: Initial(2), ev: HandoffRequest{From: 4, To: 2}},
		{name: "become master without target", s: Initial(2), ev: BecomeMaster{From: 33}},
		{name: "nil event", s: Initial(2), ev: nil},
	}
	for _, tc := range cases {
		next, actions, err := Transition(tc.s, tc.ev)
		if !errors.Is(err, ErrViolation) {
			t.Fatalf("%s: expected ErrViolation, got %v", tc.name, err)
		}
		if next != tc.s || len(actions) != 0 {
			t.Fatalf("%s: state changed to %s with %v", tc.name, next, actions)
		}
	}
}

func TestEventsForOtherDevicesAreIgnored(t *testing.T) {
	testlog.Start(t)
	s := State{Self: 2, Master: 3, Role: NotMaster}
	for _, ev := range []Event{
		HandoffRequest{From: 4, To: 3},
		HandoffResponse{From: 3, To: 4, Accepted: true},
		MasterObserved{Device: 2},
	} {
		next, actions, err := Transition(s, ev)
		if err != nil || len(actions) != 0 || next != s {
			t.Fatalf("%s should be ignored: %s %v %v", EventName(ev), next, actions, err)
		}
	}
}

func TestRefusedHandoff(t *testing.T) {
	testlog.Start(t)
	s := State{Self: 3, Master: 2, Role: PendingHandoff, PendingTo: 2}
	next, _, err := Transition(s, HandoffResponse{From: 2, To: 3, Accepted: false})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.Role != NotMaster || next.Master != 2 || next.PendingTo != NoDevice {
		t.Fatalf("expected refusal to leave 2 as master, got %s", next)
	}
}

func TestAbandonedHandoffAllowsRetry(t *testing.T) {
	testlog.Start(t)
	s := State{Self: 5, Master: 2, Role: NotMaster}
	pending, actions, err := Transition(s, TakeOver{})
	if err != nil || len(actions) != 1 || pending.Role != PendingHandoff {
		t.Fatalf("take over: %s %v %v", pending, actions, err)
	}

	back, _, err := Transition(pending, HandoffAbandoned{To: 2})
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if back != s {
		t.Fatalf("expected the pre-take-over state, got %s", back)
	}
	again, actions, err := Transition(back, TakeOver{})
	if err != nil || len(actions) != 1 || again.Role != PendingHandoff {
		t.Fatalf("retry should announce again: %s %v %v", again, actions, err)
	}

	for _, st := range []State{s, {Self: 5, Master: 2, Role: PendingHandoff, PendingTo: 3}} {
		if next, _, err := Transition(st, HandoffAbandoned{To: 2}); !errors.Is(err, ErrViolation) || next != st {
			t.Fatalf("abandon from %s should be a violation, got %s %v", st, next, err)
		}
	}
}

func TestMasterObserved(t *testing.T) {
	testlog.Start(t)
	next, _, _ := Transition(Initial(2), MasterObserved{Device: 4})
	if next.Role != NotMaster || next.Master != 4 {
		t.Fatalf("expected to follow 4, got %s", next)
	}
	master := State{Self: 2, Master: 2, Role: Master}
	if got, _, _ := Transition(master, MasterObserved{Device: 4}); got != master {
		t.Fatalf("master should only yield through the handshake, got %s", got)
	}
}

// network delivers actions between arbiters the way the participant
// would, synchronously and in order.
type network struct {
	t     *testing.T
	nodes map[uint8]*Arbiter
}

func (n *network) run(from uint8, actions []Action) {
	n.t.Helper()
	for _, a := range actions {
		var (
			to uint8
			ev Event
		)
		switch act := a.(type) {
		case SendHandoffRequest:
			to, ev = act.To, HandoffRequest{From: from, To: act.To}
		case SendHandoffResponse:
			to, ev = act.To, HandoffResponse{From: from, To: act.To, Accepted: true}
		default:
			n.t.Fatalf("unexpected action %T", a)
		}
		next, err := n.nodes[to].Apply(ev)
		if err != nil {
			n.t.Fatalf("device %d rejected %s from %d: %v", to, EventName(ev), from, err)
		}
		n.run(to, next)
	}
}

func (n *network) broadcast(ev Event) {
	n.t.Helper()
	for id, a := range n.nodes {
		actions, err := a.Apply(ev)
		if err != nil {
			n.t.Fatalf("device %d: %v", id, err)
		}
		n.run(id, actions)
	}
}

func (n *network) takeOver(id uint8) {
	n.t.Helper()
	actions, err := n.nodes[id].Apply(TakeOver{})
	if err != nil {
		n.t.Fatalf("device %d take over: %v", id, err)
	}
	n.run(id, actions)
}

func (n *network) expect(want map[uint8]Role) {
	n.t.Helper()
	masters := 0
	for id, a := range n.nodes {
		st := a.State()
		if st.Role == Master {
			masters++
		}
		if r, ok := want[id]; ok && st.Role != r {
			n.t.Fatalf("device %d: expected %s, got %s", id, r, st)
		}
	}
	if masters > 1 {
		n.t.Fatalf("more than one master")
	}
}

func TestCapturedHandoffScenario(t *testing.T) {
	logger := testlog.Logger(t)
	const mixer, p2, p3 = 33, 2, 3
	n := &network{t: t, nodes: map[uint8]*Arbiter{
		mixer: NewArbiter(mixer, logger),
		p2:    NewArbiter(p2, logger),
		p3:    NewArbiter(p3, logger),
	}}

	n.broadcast(BecomeMaster{From: mixer, Target: p2})
	n.expect(map[uint8]Role{p2: Master, p3: NotMaster, mixer: NotMaster})

	n.takeOver(p3)
	n.expect(map[uint8]Role{p3: Master, p2: NotMaster})

	n.takeOver(p2)
	n.expect(map[uint8]Role{p2: Master, p3: NotMaster})

	// The mixer claims mastership through the same handshake.
	n.takeOver(mixer)
	n.expect(map[uint8]Role{mixer: Master, p2: NotMaster, p3: NotMaster})
	if got := n.nodes[p2].State().Master; got != mixer {
		t.Fatalf("p2 should follow the mixer, got %d", got)
	}
}

func TestArbiterRebind(t *testing.T) {
	a := NewArbiter(2, testlog.Logger(t))
	if _, err := a.Apply(TakeOver{}); err != nil {
		t.Fatalf("take over: %v", err)
	}
	a.Rebind(7)
	if st := a.State(); st != Initial(7) {
		t.Fatalf("expected reset state, got %s", st)
	}
	if _, err := a.Apply(HandoffResponse{From: 3, To: 7, Accepted: true}); !errors.Is(err, ErrViolation) {
		t.Fatalf("expected ErrViolation, got %v", err)
	}
}
