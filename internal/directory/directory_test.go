package directory

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/prolink/internal/protocol"
	"github.com/danmuck/prolink/internal/testutil/testlog"
)

func keepAlive(n uint8, name string, ip string, mac byte) *protocol.KeepAlive {
	return &protocol.KeepAlive{
		Name:       name,
		Number:     n,
		DeviceType: protocol.DeviceTypePlayer,
		MAC:        protocol.MAC{0x00, 0xe0, 0x36, 0x00, 0x00, mac},
		IP:         netip.MustParseAddr(ip),
	}
}

func TestObserveChanges(t *testing.T) {
	testlog.Start(t)
	d := New(5 * time.Second)
	t0 := time.Unix(1000, 0)

	if c := d.Observe(keepAlive(2, "CDJ-2000", "10.0.0.2", 2), t0); c != Added {
		t.Fatalf("expected added, got %s", c)
	}
	if c := d.Observe(keepAlive(2, "CDJ-2000", "10.0.0.2", 2), t0.Add(time.Second)); c != Refreshed {
		t.Fatalf("expected refreshed, got %s", c)
	}
	if c := d.Observe(keepAlive(2, "CDJ-3000", "10.0.0.9", 9), t0.Add(2*time.Second)); c != Replaced {
		t.Fatalf("expected replaced, got %s", c)
	}
	dev, ok := d.Lookup(2)
	if !ok {
		t.Fatalf("expected device 2")
	}
	if dev.Name != "CDJ-3000" || dev.IP != netip.MustParseAddr("10.0.0.9") {
		t.Fatalf("reconnection should overwrite: %+v", dev)
	}
	if d.Len() != 1 {
		t.Fatalf("expected one device, got %d", d.Len())
	}
}

func TestObserveIgnoresNumberZero(t *testing.T) {
	testlog.Start(t)
	d := New(5 * time.Second)
	if c := d.Observe(keepAlive(0, "CDJ-2000", "10.0.0.2", 2), time.Unix(1000, 0)); c != Ignored {
		t.Fatalf("expected ignored, got %s", c)
	}
	if c := d.Observe(nil, time.Unix(1000, 0)); c != Ignored {
		t.Fatalf("expected nil keepalive to be ignored, got %s", c)
	}
	if d.Len() != 0 {
		t.Fatalf("number 0 must not be stored: %+v", d.All())
	}
	if _, ok := d.Lookup(0); ok {
		t.Fatalf("lookup of 0 should miss")
	}
}

func TestExpireAfterWindow(t *testing.T) {
	testlog.Start(t)
	d := New(5 * time.Second)
	t0 := time.Unix(1000, 0)
	d.Observe(keepAlive(1, "CDJ-1", "10.0.0.1", 1), t0)
	d.Observe(keepAlive(2, "CDJ-2", "10.0.0.2", 2), t0)

	// Device 2 is refreshed before the window closes, resetting its timer.
	d.Observe(keepAlive(2, "CDJ-2", "10.0.0.2", 2), t0.Add(4*time.Second))

	if gone := d.Expire(t0.Add(5 * time.Second)); len(gone) != 0 {
		t.Fatalf("nothing exceeds the window yet, expired %+v", gone)
	}
	gone := d.Expire(t0.Add(6 * time.Second))
	if len(gone) != 1 || gone[0].Number != 1 {
		t.Fatalf("expected device 1 expired, got %+v", gone)
	}
	all := d.All()
	if len(all) != 1 || all[0].Number != 2 {
		t.Fatalf("expected only device 2, got %+v", all)
	}
	if gone := d.Expire(t0.Add(10 * time.Second)); len(gone) != 1 || gone[0].Number != 2 {
		t.Fatalf("expected device 2 expired, got %+v", gone)
	}
	if d.Len() != 0 {
		t.Fatalf("expected empty directory")
	}
}

func TestAllSorted(t *testing.T) {
	testlog.Start(t)
	d := New(0)
	if d.Timeout() != DefaultTimeout {
		t.Fatalf("expected default timeout")
	}
	now := time.Now()
	for _, n := range []uint8{33, 3, 17, 1} {
		d.Observe(keepAlive(n, "dev", "10.0.0.1", n), now)
	}
	all := d.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Number >= all[i].Number {
			t.Fatalf("snapshot not sorted: %+v", all)
		}
	}
}

func TestTakenAndForget(t *testing.T) {
	testlog.Start(t)
	d := New(time.Second)
	self := Device{MAC: protocol.MAC{1}, IP: netip.MustParseAddr("10.0.0.5")}
	d.Observe(keepAlive(4, "peer", "10.0.0.4", 4), time.Now())

	if !d.Taken(4, self) {
		t.Fatalf("number 4 is held by a peer")
	}
	if d.Taken(5, self) {
		t.Fatalf("number 5 is free")
	}
	if !d.Forget(4) || d.Forget(4) {
		t.Fatalf("forget should report presence once")
	}
}

func TestConcurrentObserveAndSnapshot(t *testing.T) {
	testlog.Start(t)
	d := New(time.Minute)
	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				n := uint8(1 + (w*50+i)%200)
				d.Observe(keepAlive(n, "dev", "10.0.0.1", n), start.Add(time.Duration(i)*time.Millisecond))
				_ = d.All()
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.Expire(start)
		}
	}()
	wg.Wait()
	if d.Len() == 0 || d.Len() > 200 {
		t.Fatalf("unexpected size %d", d.Len())
	}
}
