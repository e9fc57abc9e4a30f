// Package directory tracks the DJ Link devices currently visible on the
// network, keyed by device number.
package directory

import (
	"net/netip"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/danmuck/prolink/internal/protocol"
)

// DefaultTimeout is how long a device may go unheard before it is
// considered gone. Hardware announces roughly every 1.5s.
const DefaultTimeout = 10 * time.Second

// Device is a snapshot of one peer's identity.
type Device struct {
	Number   uint8
	Name     string
	Type     protocol.DeviceType
	MAC      protocol.MAC
	IP       netip.Addr
	LastSeen time.Time
}

// SameIdentity reports whether d and o describe the same physical device.
func (d Device) SameIdentity(o Device) bool {
	return d.MAC == o.MAC && d.IP == o.IP
}

// Change is the effect of one observation.
type Change uint8

const (
	// Ignored means the observation carried no usable device number.
	Ignored Change = iota
	// Added means the number was not present.
	Added
	// Refreshed means the same device announced again.
	Refreshed
	// Replaced means a different device (by MAC, IP or name) now holds
	// the number; treated as a reconnection.
	Replaced
)

func (c Change) String() string {
	switch c {
	case Added:
		return "added"
	case Refreshed:
		return "refreshed"
	case Replaced:
		return "replaced"
	default:
		return "ignored"
	}
}

// Directory is safe for concurrent use. Snapshots never block observers.
type Directory struct {
	m       *xsync.MapOf[uint8, Device]
	timeout time.Duration
}

// New returns an empty directory that expires devices unheard for
// timeout. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Directory{
		m:       xsync.NewMapOf[uint8, Device](),
		timeout: timeout,
	}
}

// Timeout returns the expiry window.
func (d *Directory) Timeout() time.Duration { return d.timeout }

// Observe inserts or refreshes the device described by ka. Device number
// 0 is not a valid id and is ignored.
func (d *Directory) Observe(ka *protocol.KeepAlive, at time.Time) Change {
	if ka == nil || ka.Number == 0 {
		return Ignored
	}
	next := Device{
		Number:   ka.Number,
		Name:     ka.Name,
		Type:     ka.DeviceType,
		MAC:      ka.MAC,
		IP:       ka.IP,
		LastSeen: at,
	}
	var change Change
	d.m.Compute(ka.Number, func(old Device, loaded bool) (Device, bool) {
		switch {
		case !loaded:
			change = Added
		case old.SameIdentity(next) && old.Name == next.Name:
			change = Refreshed
		default:
			change = Replaced
		}
		return next, false
	})
	return change
}

// Expire removes every device last seen more than the timeout before now
// and returns them. A device refreshed concurrently is kept.
func (d *Directory) Expire(now time.Time) []Device {
	cutoff := now.Add(-d.timeout)
	var stale []uint8
	d.m.Range(func(n uint8, dev Device) bool {
		if dev.LastSeen.Before(cutoff) {
			stale = append(stale, n)
		}
		return true
	})

	var removed []Device
	for _, n := range stale {
		d.m.Compute(n, func(cur Device, loaded bool) (Device, bool) {
			if !loaded || !cur.LastSeen.Before(cutoff) {
				return cur, !loaded
			}
			removed = append(removed, cur)
			return cur, true
		})
	}
	sortDevices(removed)
	return removed
}

// All returns a snapshot sorted by device number.
func (d *Directory) All() []Device {
	out := make([]Device, 0, d.m.Size())
	d.m.Range(func(_ uint8, dev Device) bool {
		out = append(out, dev)
		return true
	})
	sortDevices(out)
	return out
}

// Lookup returns the device holding number n.
func (d *Directory) Lookup(n uint8) (Device, bool) {
	return d.m.Load(n)
}

// Len is the number of devices currently tracked.
func (d *Directory) Len() int { return d.m.Size() }

// Forget drops number n regardless of age.
func (d *Directory) Forget(n uint8) bool {
	_, ok := d.m.LoadAndDelete(n)
	return ok
}

// Taken reports whether n is held by a device other than self.
func (d *Directory) Taken(n uint8, self Device) bool {
	dev, ok := d.m.Load(n)
	return ok && !dev.SameIdentity(self)
}

func sortDevices(devs []Device) {
	sort.Slice(devs, func(i, j int) bool { return devs[i].Number < devs[j].Number })
}
