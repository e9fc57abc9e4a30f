// Package dispatch fans decoded packets out to subscribers keyed by port
// and device number.
//
// Callbacks run synchronously on the receiving goroutine, in registration
// order. They are expected not to block; the dispatcher does not enforce
// a time budget. A callback may subscribe or unsubscribe from within its
// own invocation. A callback must not wait for the goroutine delivering
// to it to exit, so a participant's Stop is off limits; use Cancel.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/prolink/internal/observability"
	"github.com/danmuck/prolink/internal/protocol"
)

// Wildcard matches every device number.
const Wildcard uint8 = 0

// Handler receives one decoded packet. It must not retain or mutate
// pkt.Raw.
type Handler func(pkt *protocol.Packet)

// Token identifies one subscription. The zero Token is never issued.
type Token uint64

type subscription struct {
	token  Token
	port   protocol.Port
	device uint8
	fn     Handler
}

// Dispatcher owns the subscription registry.
type Dispatcher struct {
	mu     sync.Mutex
	next   Token
	subs   []subscription
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Subscribe registers fn for packets on port from device (or Wildcard).
func (d *Dispatcher) Subscribe(port protocol.Port, device uint8, fn Handler) Token {
	if fn == nil {
		panic("dispatch: nil handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	tok := d.next
	// Copy on write so in-flight deliveries keep their snapshot.
	subs := make([]subscription, len(d.subs), len(d.subs)+1)
	copy(subs, d.subs)
	d.subs = append(subs, subscription{token: tok, port: port, device: device, fn: fn})
	return tok
}

// Unsubscribe removes tok. It reports whether tok was registered.
func (d *Dispatcher) Unsubscribe(tok Token) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.token != tok {
			continue
		}
		subs := make([]subscription, 0, len(d.subs)-1)
		subs = append(subs, d.subs[:i]...)
		subs = append(subs, d.subs[i+1:]...)
		d.subs = subs
		return true
	}
	return false
}

// Len is the number of live subscriptions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Deliver runs every matching callback and returns how many ran. A
// panicking callback is recovered and logged; later subscribers still
// run.
func (d *Dispatcher) Deliver(pkt *protocol.Packet) int {
	if pkt == nil {
		return 0
	}
	d.mu.Lock()
	subs := d.subs
	d.mu.Unlock()

	device := pkt.Device()
	n := 0
	for _, s := range subs {
		if s.port != pkt.Port {
			continue
		}
		if s.device != Wildcard && s.device != device {
			continue
		}
		d.invoke(s, pkt)
		n++
	}
	return n
}

func (d *Dispatcher) invoke(s subscription, pkt *protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordCallbackPanic()
			d.logger.Error().
				Uint64("token", uint64(s.token)).
				Stringer("port", pkt.Port).
				Stringer("kind", pkt.Kind).
				Str("panic", fmt.Sprint(r)).
				Msg("subscriber panicked")
		}
	}()
	s.fn(pkt)
}
