package participant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/danmuck/prolink/internal/arbitration"
	"github.com/danmuck/prolink/internal/directory"
	"github.com/danmuck/prolink/internal/netutil"
	"github.com/danmuck/prolink/internal/observability"
	"github.com/danmuck/prolink/internal/protocol"
	"github.com/danmuck/prolink/internal/protocol/wire"
	"github.com/danmuck/prolink/internal/svcutil"
)

// maxDatagram covers the largest status packet with room to spare.
const maxDatagram = 1500

// receive returns the loop for one socket. Packets from a socket are
// handled in arrival order on the loop's goroutine.
func (p *Participant) receive(port protocol.Port, conn *net.UDPConn) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		buf := make([]byte, maxDatagram)
		for {
			n, src, err := conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				if ctx.Err() != nil {
					return svcutil.NoRestartErr(ctx.Err())
				}
				// A socket closed or failing under us means the network
				// attachment is gone.
				return svcutil.AsFatalErr(err, port.String()+" receive")
			}
			p.handle(port, buf[:n], src)
		}
	}
}

func (p *Participant) handle(port protocol.Port, raw []byte, src netip.AddrPort) {
	pkt, err := protocol.Decode(raw, port)
	if err != nil {
		observability.RecordDrop(port.String(), dropReason(err))
		p.logger.Debug().Err(err).Stringer("src", src).Msg("dropped packet")
		return
	}
	observability.RecordPacket(port.String(), pkt.Kind.String())

	from := src.Addr().Unmap()
	self := p.DeviceNumber()
	if n := pkt.Device(); n != 0 && n != self {
		p.peers.Store(n, from)
	}
	switch b := pkt.Body.(type) {
	case *protocol.KeepAlive:
		p.observe(b, self)
	case *protocol.NumberInUse:
		if self != 0 && b.Number == self && b.IP != p.iface.IP {
			p.reselect("number in use", b.IP)
		}
	case *protocol.HandoffRequest:
		if self != 0 && b.Number != self {
			p.arbitrate(arbitration.HandoffRequest{From: b.Number, To: self}, from)
		}
	case *protocol.HandoffResponse:
		if self != 0 && b.Number != self {
			p.arbitrate(arbitration.HandoffResponse{From: b.Number, To: self, Accepted: b.Accepted}, from)
		}
	case *protocol.SyncControl:
		if self != 0 && b.Number != self {
			p.syncControl(b, self, from)
		}
	case *protocol.CDJStatus:
		if self != 0 && b.IsMaster() && b.Number != self {
			p.arbitrate(arbitration.MasterObserved{Device: b.Number}, from)
		}
	case *protocol.MixerStatus:
		if self != 0 && b.IsMaster() && b.Number != self {
			p.arbitrate(arbitration.MasterObserved{Device: b.Number}, from)
		}
	}
	p.disp.Deliver(pkt)
}

func (p *Participant) observe(ka *protocol.KeepAlive, self uint8) {
	if ka.MAC == p.iface.MAC && ka.IP == p.iface.IP {
		return
	}
	change := p.dir.Observe(ka, time.Now())
	if change == directory.Ignored {
		return
	}
	recordDirectory(change.String(), p.dir)
	if change != directory.Refreshed {
		p.logger.Info().
			Uint8("number", ka.Number).
			Str("name", ka.Name).
			Stringer("ip", ka.IP).
			Stringer("change", change).
			Msg("device observed")
	}
	if self != 0 && ka.Number == self {
		p.reselect("keepalive", ka.IP)
	}
}

// syncControl handles a command sent to this device. The packet names
// only its sender; arriving on our socket makes us the target.
func (p *Participant) syncControl(sc *protocol.SyncControl, self uint8, from netip.Addr) {
	switch sc.Command {
	case protocol.SyncBecomeMaster:
		p.arbitrate(arbitration.BecomeMaster{From: sc.Number, Target: self}, from)
	case protocol.SyncOn:
		p.synced.Store(true)
		p.logger.Info().Uint8("from", sc.Number).Msg("sync enabled")
	case protocol.SyncOff:
		p.synced.Store(false)
		p.logger.Info().Uint8("from", sc.Number).Msg("sync disabled")
	}
}

func (p *Participant) arbitrate(ev arbitration.Event, from netip.Addr) {
	actions, err := p.arb.Apply(ev)
	if err != nil {
		return
	}
	if err := p.perform(actions, from); err != nil {
		p.logger.Warn().Err(err).Str("event", arbitration.EventName(ev)).Msg("arbitration reply not sent")
	}
}

// perform sends the packets a transition asked for and returns the first
// send failure.
func (p *Participant) perform(actions []arbitration.Action, from netip.Addr) error {
	n := p.DeviceNumber()
	var first error
	for _, a := range actions {
		var err error
		switch act := a.(type) {
		case arbitration.SendHandoffRequest:
			err = p.sendToDevice(act.To, from, &protocol.HandoffRequest{Name: p.cfg.Name, Number: n})
		case arbitration.SendHandoffResponse:
			err = p.sendToDevice(act.To, from, &protocol.HandoffResponse{Name: p.cfg.Name, Number: n, Accepted: true})
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// addressOf resolves a peer by its directory entry, then by the source of
// the last packet it sent, then by fallback.
func (p *Participant) addressOf(to uint8, fallback netip.Addr) (netip.Addr, bool) {
	if dev, ok := p.dir.Lookup(to); ok && dev.IP.IsValid() {
		return dev.IP, true
	}
	if ip, ok := p.peers.Load(to); ok {
		return ip, true
	}
	return fallback, fallback.IsValid()
}

func (p *Participant) sendToDevice(to uint8, fallback netip.Addr, body protocol.Body) error {
	ip, ok := p.addressOf(to, fallback)
	if !ok {
		return fmt.Errorf("%w: device %d", ErrNoAddress, to)
	}
	return p.send(protocol.PortBeat, body, netip.AddrPortFrom(ip, p.cfg.Remote.Beat))
}

func (p *Participant) broadcastTo(port protocol.Port) netip.AddrPort {
	return netip.AddrPortFrom(p.bcast, p.cfg.Remote.For(port))
}

func (p *Participant) sendKeepAlive() {
	n := p.DeviceNumber()
	if n == 0 {
		return
	}
	peers := p.dir.Len() + 1
	if peers > 0xff {
		peers = 0xff
	}
	_ = p.send(protocol.PortDiscovery, &protocol.KeepAlive{
		Name:       p.cfg.Name,
		Number:     n,
		DeviceType: p.cfg.DeviceType,
		MAC:        protocol.MAC(p.iface.MAC),
		IP:         p.iface.IP,
		PeersSeen:  uint8(peers),
	}, p.broadcastTo(protocol.PortDiscovery))
}

func (p *Participant) statusBody(n uint8) *protocol.CDJStatus {
	st := p.arb.State()
	flags := wire.Flags(0).
		With(wire.FlagMaster, st.Role == arbitration.Master).
		With(wire.FlagSync, p.synced.Load())
	return &protocol.CDJStatus{
		Name:          p.cfg.Name,
		Number:        n,
		Length:        protocol.LenCDJStatus,
		PlayState:     protocol.PlayNoTrack,
		Firmware:      "1.00",
		Flags:         flags,
		Pitch:         wire.PitchUnity,
		MasterHandoff: protocol.NoHandoff,
		CueCountdown:  wire.CueCountdown(wire.CueNone),
		PacketCounter: p.statusSeq.Add(1),
	}
}

// send encodes body and writes it from the socket bound for port. Send
// failures are logged and returned; receive failures are what end the
// participant.
func (p *Participant) send(port protocol.Port, body protocol.Body, dst netip.AddrPort) error {
	raw, err := protocol.Encode(body)
	if err != nil {
		p.logger.Error().Err(err).Stringer("kind", body.Kind()).Msg("encode outbound packet")
		return err
	}
	conn := p.conns[port]
	if conn == nil {
		return ErrNotRunning
	}
	if _, err := conn.WriteToUDPAddrPort(raw, dst); err != nil {
		if !netutil.IsClosed(err) {
			p.logger.Warn().Err(err).Stringer("kind", body.Kind()).Stringer("dst", dst).Msg("send failed")
		}
		return err
	}
	observability.RecordSent(body.Kind().String())
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidMagic):
		return "invalid_magic"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, protocol.ErrUnknownPort):
		return "unknown_port"
	default:
		return "other"
	}
}

func recordDirectory(change string, dir *directory.Directory) {
	observability.RecordDirectory(change, dir.Len())
}
