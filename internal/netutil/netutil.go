// Package netutil resolves the network attachment a participant joins
// and opens the UDP sockets it uses.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var (
	ErrNoInterface = errors.New("netutil: no usable interface")
	ErrNoIPv4      = errors.New("netutil: interface has no ipv4 address")
)

// Interface is the local attachment: its IPv4 address, the directed
// broadcast address of its subnet and its hardware address.
type Interface struct {
	Name      string
	IP        netip.Addr
	Broadcast netip.Addr
	MAC       [6]byte
}

func (i Interface) String() string {
	return fmt.Sprintf("%s ip=%s bcast=%s", i.Name, i.IP, i.Broadcast)
}

// Resolve looks up the named interface. An empty name selects the first
// interface that is up, not loopback and carries an IPv4 address.
func Resolve(name string) (Interface, error) {
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return Interface{}, fmt.Errorf("%w: %s: %w", ErrNoInterface, name, err)
		}
		return fromNet(ifi)
	}
	ifs, err := net.Interfaces()
	if err != nil {
		return Interface{}, fmt.Errorf("%w: %w", ErrNoInterface, err)
	}
	for i := range ifs {
		ifi := &ifs[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if out, err := fromNet(ifi); err == nil {
			return out, nil
		}
	}
	return Interface{}, ErrNoInterface
}

func fromNet(ifi *net.Interface) (Interface, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return Interface{}, fmt.Errorf("%w: %s: %w", ErrNoInterface, ifi.Name, err)
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		out, ok := FromIPNet(ipn)
		if !ok {
			continue
		}
		out.Name = ifi.Name
		copy(out.MAC[:], ifi.HardwareAddr)
		return out, nil
	}
	return Interface{}, fmt.Errorf("%w: %s", ErrNoIPv4, ifi.Name)
}

// FromIPNet derives address and broadcast from an IPv4 network. ok is
// false for non-IPv4 input.
func FromIPNet(ipn *net.IPNet) (Interface, bool) {
	ip4 := ipn.IP.To4()
	if ip4 == nil {
		return Interface{}, false
	}
	mask := ipn.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return Interface{}, false
	}
	var ip, bcast [4]byte
	for i := 0; i < 4; i++ {
		ip[i] = ip4[i]
		bcast[i] = ip4[i] | ^mask[i]
	}
	return Interface{IP: netip.AddrFrom4(ip), Broadcast: netip.AddrFrom4(bcast)}, true
}

// Loopback returns an attachment on 127.0.0.1 that "broadcasts" to
// itself. Used for tests and single-host setups.
func Loopback() Interface {
	lo := netip.MustParseAddr("127.0.0.1")
	return Interface{Name: "loopback", IP: lo, Broadcast: lo}
}

// ListenUDP binds addr with address reuse enabled so the well-known ports
// can be shared with other DJ Link software on the same host.
func ListenUDP(ctx context.Context, addr netip.AddrPort) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("netutil: unexpected packet conn %T", pc)
	}
	return conn, nil
}

// IsClosed reports whether err is the result of reading from a socket
// closed by its owner.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
