package dispatch

import (
	"reflect"
	"sync"
	"testing"

	"github.com/danmuck/prolink/internal/protocol"
	"github.com/danmuck/prolink/internal/protocol/wire"
	"github.com/danmuck/prolink/internal/testutil/testlog"
)

func beatFrom(t *testing.T, device uint8) *protocol.Packet {
	t.Helper()
	pkt, err := protocol.EncodePacket(&protocol.Beat{Name: "CDJ", Number: device, Pitch: wire.PitchUnity, BPM: 12800})
	if err != nil {
		t.Fatalf("encode beat: %v", err)
	}
	return pkt
}

func TestDeliverMatchesPortAndDevice(t *testing.T) {
	d := New(testlog.Logger(t))
	var got []string
	d.Subscribe(protocol.PortBeat, Wildcard, func(*protocol.Packet) { got = append(got, "any") })
	d.Subscribe(protocol.PortBeat, 2, func(*protocol.Packet) { got = append(got, "two") })
	d.Subscribe(protocol.PortBeat, 3, func(*protocol.Packet) { got = append(got, "three") })
	d.Subscribe(protocol.PortStatus, Wildcard, func(*protocol.Packet) { got = append(got, "status") })

	if n := d.Deliver(beatFrom(t, 2)); n != 2 {
		t.Fatalf("expected 2 callbacks, got %d", n)
	}
	if !reflect.DeepEqual(got, []string{"any", "two"}) {
		t.Fatalf("unexpected delivery order: %v", got)
	}
	if n := d.Deliver(nil); n != 0 {
		t.Fatalf("nil packet should deliver nothing")
	}
}

func TestRegistrationOrder(t *testing.T) {
	d := New(testlog.Logger(t))
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		d.Subscribe(protocol.PortBeat, Wildcard, func(*protocol.Packet) { order = append(order, i) })
	}
	d.Deliver(beatFrom(t, 1))
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order delivery: %v", order)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	d := New(testlog.Logger(t))
	calls := 0
	tok := d.Subscribe(protocol.PortBeat, Wildcard, func(*protocol.Packet) { calls++ })
	if tok == 0 {
		t.Fatalf("zero token issued")
	}
	if !d.Unsubscribe(tok) {
		t.Fatalf("expected unsubscribe to succeed")
	}
	if d.Unsubscribe(tok) {
		t.Fatalf("second unsubscribe should report false")
	}
	d.Deliver(beatFrom(t, 1))
	if calls != 0 || d.Len() != 0 {
		t.Fatalf("removed subscriber still called")
	}
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	d := New(testlog.Logger(t))
	after := false
	d.Subscribe(protocol.PortBeat, Wildcard, func(*protocol.Packet) { panic("boom") })
	d.Subscribe(protocol.PortBeat, Wildcard, func(*protocol.Packet) { after = true })

	if n := d.Deliver(beatFrom(t, 4)); n != 2 {
		t.Fatalf("expected both callbacks counted, got %d", n)
	}
	if !after {
		t.Fatalf("subscriber after a panic was not run")
	}
}

func TestUnsubscribeFromInsideCallback(t *testing.T) {
	d := New(testlog.Logger(t))
	calls := 0
	var tok Token
	tok = d.Subscribe(protocol.PortBeat, Wildcard, func(*protocol.Packet) {
		calls++
		d.Unsubscribe(tok)
	})
	d.Deliver(beatFrom(t, 1))
	d.Deliver(beatFrom(t, 1))
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestConcurrentSubscribeAndDeliver(t *testing.T) {
	d := New(testlog.Logger(t))
	pkt := beatFrom(t, 2)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tok := d.Subscribe(protocol.PortBeat, 2, func(*protocol.Packet) {})
				d.Unsubscribe(tok)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d.Deliver(pkt)
			}
		}()
	}
	wg.Wait()
	if d.Len() != 0 {
		t.Fatalf("expected no subscriptions left, got %d", d.Len())
	}
}
