package netutil

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/danmuck/prolink/internal/testutil/testlog"
)

func TestFromIPNet(t *testing.T) {
	testlog.Start(t)
	_, ipn, err := net.ParseCIDR("192.168.1.0/24")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ipn.IP = net.ParseIP("192.168.1.23")
	got, ok := FromIPNet(ipn)
	if !ok {
		t.Fatalf("expected ipv4 network")
	}
	if got.IP != netip.MustParseAddr("192.168.1.23") || got.Broadcast != netip.MustParseAddr("192.168.1.255") {
		t.Fatalf("unexpected attachment: %s", got)
	}

	_, v6, _ := net.ParseCIDR("fe80::/64")
	if _, ok := FromIPNet(v6); ok {
		t.Fatalf("ipv6 network should be rejected")
	}
}

func TestListenUDPReusesAddress(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	a, err := ListenUDP(ctx, netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()

	addr := a.LocalAddr().(*net.UDPAddr).AddrPort()
	if addr.Port() == 0 {
		t.Fatalf("expected an assigned port")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, _, err = a.ReadFromUDPAddrPort(make([]byte, 1))
	if !IsClosed(err) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestLoopback(t *testing.T) {
	testlog.Start(t)
	lo := Loopback()
	if !lo.IP.IsLoopback() || lo.Broadcast != lo.IP {
		t.Fatalf("unexpected loopback attachment: %s", lo)
	}
}
