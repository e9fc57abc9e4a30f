// Package participant runs a virtual DJ Link device: it binds the three
// protocol ports, claims a device number, announces itself, and routes
// every received packet to the directory, the arbiter and the dispatcher.
//
// Ownership boundary:
// - the sockets and every outbound packet
// - the supervised receive, announce, expiry and status loops
// - the device-number claim and its re-selection on conflict
package participant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/danmuck/prolink/internal/arbitration"
	"github.com/danmuck/prolink/internal/directory"
	"github.com/danmuck/prolink/internal/dispatch"
	"github.com/danmuck/prolink/internal/logging"
	"github.com/danmuck/prolink/internal/netutil"
	"github.com/danmuck/prolink/internal/protocol"
	"github.com/danmuck/prolink/internal/svcutil"
)

// Participant is one virtual device on the network.
type Participant struct {
	cfg    Config
	dir    *directory.Directory
	disp   *dispatch.Dispatcher
	arb    *arbitration.Arbiter
	logger zerolog.Logger
	// Last source address per device number, for peers not (yet) in the
	// directory.
	peers *xsync.MapOf[uint8, netip.Addr]

	// Set once by Start before any loop runs.
	iface netutil.Interface
	conns map[protocol.Port]*net.UDPConn
	bcast netip.Addr

	number    atomic.Uint32
	synced    atomic.Bool
	statusSeq atomic.Uint32

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	err       error
}

// New returns a participant that reports into dir and disp. Either may be
// nil, in which case a private one is created.
func New(cfg Config, dir *directory.Directory, disp *dispatch.Dispatcher) (*Participant, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.Component("participant")
	if dir == nil {
		dir = directory.New(0)
	}
	if disp == nil {
		disp = dispatch.New(logging.Component("dispatch"))
	}
	return &Participant{
		cfg:    cfg,
		dir:    dir,
		disp:   disp,
		arb:    arbitration.NewArbiter(0, logging.Component("arbitration")),
		logger: logger,
		peers:  xsync.NewMapOf[uint8, netip.Addr](),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (p *Participant) Directory() *directory.Directory   { return p.dir }
func (p *Participant) Dispatcher() *dispatch.Dispatcher { return p.disp }

// DeviceNumber is the claimed number, 0 before the claim completes.
func (p *Participant) DeviceNumber() uint8 { return uint8(p.number.Load()) }

// Master returns the current arbitration state.
func (p *Participant) Master() arbitration.State { return p.arb.State() }

// Done is closed once every loop has exited and the sockets are closed.
func (p *Participant) Done() <-chan struct{} { return p.done }

// Err is the fatal error that stopped the participant, if any. Valid
// after Done is closed.
func (p *Participant) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Addr returns the local address bound for port.
func (p *Participant) Addr(port protocol.Port) netip.AddrPort {
	conn, ok := p.conns[port]
	if !ok {
		return netip.AddrPort{}
	}
	return conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Start resolves ifaceName (empty selects the first usable interface)
// and runs until ctx is done or Stop is called.
func (p *Participant) Start(ctx context.Context, ifaceName string) error {
	iface, err := netutil.Resolve(ifaceName)
	if err != nil {
		return err
	}
	return p.StartOn(ctx, iface)
}

// StartOn is Start with an already-resolved attachment. It returns once
// the device number is claimed.
func (p *Participant) StartOn(ctx context.Context, iface netutil.Interface) error {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return ErrStopped
	default:
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true

	conns, err := p.bind(ctx)
	if err != nil {
		p.mu.Unlock()
		p.finish(svcutil.AsFatalErr(err, "bind"))
		return err
	}
	p.iface = iface
	p.conns = conns
	p.bcast = iface.Broadcast
	if p.cfg.Broadcast.IsValid() {
		p.bcast = p.cfg.Broadcast.Unmap()
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	sup := suture.New("participant", svcutil.Spec(p.logger))
	for _, port := range protocol.Ports {
		sup.Add(svcutil.AsService(p.receive(port, conns[port]), "receive "+port.String()))
	}
	sup.Add(svcutil.AsService(p.announce, "announce"))
	sup.Add(svcutil.AsService(p.expire, "expire"))
	if p.cfg.SendStatus {
		sup.Add(svcutil.AsService(p.status, "status"))
	}

	errCh := sup.ServeBackground(runCtx)
	go func() {
		err := <-errCh
		cancel()
		p.finish(err)
	}()

	p.logger.Info().
		Str("iface", iface.Name).
		Stringer("ip", iface.IP).
		Stringer("broadcast", p.bcast).
		Str("name", p.cfg.Name).
		Msg("participant starting")

	select {
	case <-p.ready:
		return nil
	case <-p.done:
		if err := p.Err(); err != nil {
			return err
		}
		return ErrStopped
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	}
}

func (p *Participant) bind(ctx context.Context) (map[protocol.Port]*net.UDPConn, error) {
	ip := netip.IPv4Unspecified()
	if p.cfg.ListenIP.IsValid() {
		ip = p.cfg.ListenIP.Unmap()
	}
	conns := make(map[protocol.Port]*net.UDPConn, len(protocol.Ports))
	for _, port := range protocol.Ports {
		conn, err := netutil.ListenUDP(ctx, netip.AddrPortFrom(ip, p.cfg.Bind.For(port)))
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, err
		}
		conns[port] = conn
	}
	return conns, nil
}

// Stop closes every socket, cancels every loop and returns once they
// have exited. It is safe to call more than once and from any goroutine
// except a dispatcher callback: callbacks run on a receive loop, which Stop
// would wait on until the service timeout. Callbacks call Cancel instead.
func (p *Participant) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.started = true
	p.mu.Unlock()

	if !started || cancel == nil {
		p.finish(nil)
		<-p.done
		return
	}
	cancel()
	<-p.done
}

// Cancel starts shutdown and returns without waiting for it. Done is
// closed once the loops have exited.
func (p *Participant) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		go p.Stop()
		return
	}
	cancel()
}

func (p *Participant) finish(err error) {
	p.doneOnce.Do(func() {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
		for _, c := range p.conns {
			_ = c.Close()
		}
		p.err = err
		if err != nil {
			p.logger.Error().Err(err).Msg("participant stopped on fatal error")
		} else {
			p.logger.Info().Msg("participant stopped")
		}
		close(p.done)
	})
}

func (p *Participant) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// TakeOver asks the current master to hand mastership to this device. If
// the request cannot be sent the role is left as it was and the error is
// returned.
func (p *Participant) TakeOver() error {
	if p.DeviceNumber() == 0 {
		return ErrNotRunning
	}
	select {
	case <-p.done:
		return ErrStopped
	default:
	}
	actions, err := p.arb.Apply(arbitration.TakeOver{})
	if err != nil {
		return err
	}
	if err := p.perform(actions, netip.Addr{}); err != nil {
		// The announce never left; stay eligible for another attempt.
		for _, a := range actions {
			if req, ok := a.(arbitration.SendHandoffRequest); ok {
				_, _ = p.arb.Apply(arbitration.HandoffAbandoned{To: req.To})
			}
		}
		return fmt.Errorf("take over: %w", err)
	}
	return nil
}

func (p *Participant) setNumber(n uint8) {
	p.number.Store(uint32(n))
	p.arb.Rebind(n)
}

func (p *Participant) self() directory.Device {
	return directory.Device{Number: p.DeviceNumber(), MAC: p.iface.MAC, IP: p.iface.IP}
}

// announce claims a number, then broadcasts a keepalive every interval.
func (p *Participant) announce(ctx context.Context) error {
	if p.DeviceNumber() == 0 {
		if err := p.claim(ctx); err != nil {
			return err
		}
	}
	p.sendKeepAlive()
	t := time.NewTicker(p.cfg.KeepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.sendKeepAlive()
		}
	}
}

func (p *Participant) claim(ctx context.Context) error {
	for i := 0; i < p.cfg.HelloCount; i++ {
		_ = p.send(protocol.PortDiscovery, &protocol.Hello{Name: p.cfg.Name, DeviceType: p.cfg.DeviceType}, p.broadcastTo(protocol.PortDiscovery))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.HelloInterval):
		}
	}

	self := p.self()
	n, ok := chooseDeviceNumber(p.cfg.DeviceNumber, p.cfg.MinNumber, p.cfg.MaxNumber, func(n uint8) bool {
		return p.dir.Taken(n, self)
	})
	if !ok {
		n = p.cfg.DeviceNumber
		if n == 0 {
			n = p.cfg.MinNumber
		}
		p.logger.Error().Uint8("number", n).Msg("no free device number in range, claiming anyway")
	} else if p.cfg.DeviceNumber != 0 && n != p.cfg.DeviceNumber {
		p.logger.Warn().
			Uint8("preferred", p.cfg.DeviceNumber).
			Uint8("number", n).
			Msg("preferred device number in use")
	}
	p.setNumber(n)
	p.logger.Info().Uint8("number", n).Msg("device number claimed")
	p.markReady()
	return nil
}

// reselect moves off a number another device is defending.
func (p *Participant) reselect(reason string, rival netip.Addr) {
	old := p.DeviceNumber()
	self := p.self()
	n, ok := chooseDeviceNumber(0, p.cfg.MinNumber, p.cfg.MaxNumber, func(n uint8) bool {
		return p.dir.Taken(n, self)
	}, old)
	if !ok {
		p.logger.Error().Uint8("number", old).Str("reason", reason).Msg("device number conflict with no free number")
		return
	}
	if !p.number.CompareAndSwap(uint32(old), uint32(n)) {
		return
	}
	p.arb.Rebind(n)
	p.logger.Warn().
		Uint8("old", old).
		Uint8("new", n).
		Str("reason", reason).
		Stringer("rival", rival).
		Msg("device number conflict")
	p.sendKeepAlive()
}

func (p *Participant) expire(ctx context.Context) error {
	t := time.NewTicker(p.cfg.ExpiryTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			for _, dev := range p.dir.Expire(now) {
				p.logger.Info().Uint8("number", dev.Number).Str("name", dev.Name).Msg("device expired")
				recordDirectory("expired", p.dir)
			}
		}
	}
}

func (p *Participant) status(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ready:
	}
	t := time.NewTicker(p.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if n := p.DeviceNumber(); n != 0 {
				_ = p.send(protocol.PortStatus, p.statusBody(n), p.broadcastTo(protocol.PortStatus))
			}
		}
	}
}
