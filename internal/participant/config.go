package participant

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/danmuck/prolink/internal/protocol"
)

var (
	ErrInvalidConfig  = errors.New("participant: invalid config")
	ErrAlreadyStarted = errors.New("participant: already started")
	ErrStopped        = errors.New("participant: stopped")
	ErrNotRunning     = errors.New("participant: not running")
	ErrNoAddress      = errors.New("participant: no address for device")
)

const (
	DefaultName              = "prolink"
	DefaultDeviceNumber      = 5
	DefaultMinNumber         = 1
	DefaultMaxNumber         = 15
	DefaultKeepAliveInterval = 1500 * time.Millisecond
	DefaultHelloInterval     = 300 * time.Millisecond
	DefaultHelloCount        = 3
	DefaultExpiryTick        = time.Second
	DefaultStatusInterval    = 200 * time.Millisecond
)

// Endpoints holds one UDP port per protocol port.
type Endpoints struct {
	Discovery uint16
	Beat      uint16
	Status    uint16
}

// WellKnown is the standard DJ Link port assignment.
func WellKnown() Endpoints {
	return Endpoints{
		Discovery: uint16(protocol.PortDiscovery),
		Beat:      uint16(protocol.PortBeat),
		Status:    uint16(protocol.PortStatus),
	}
}

// For returns the port mapped to p.
func (e Endpoints) For(p protocol.Port) uint16 {
	switch p {
	case protocol.PortDiscovery:
		return e.Discovery
	case protocol.PortBeat:
		return e.Beat
	case protocol.PortStatus:
		return e.Status
	default:
		return 0
	}
}

// Config describes the virtual device.
type Config struct {
	Name         string
	DeviceType   protocol.DeviceType
	DeviceNumber uint8
	MinNumber    uint8
	MaxNumber    uint8

	// ListenIP is the bind address; the zero value binds all interfaces.
	ListenIP netip.Addr
	// Bind is the local port per protocol port. 0 picks an ephemeral port.
	Bind Endpoints
	// Remote is the destination port for broadcasts and replies.
	Remote Endpoints
	// Broadcast overrides the interface's directed broadcast address.
	Broadcast netip.Addr

	KeepAliveInterval time.Duration
	HelloInterval     time.Duration
	HelloCount        int
	ExpiryTick        time.Duration

	// SendStatus enables a periodic player status echo carrying the
	// master flag, so real hardware can observe our role.
	SendStatus     bool
	StatusInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:              DefaultName,
		DeviceType:        protocol.DeviceTypePlayer,
		DeviceNumber:      DefaultDeviceNumber,
		MinNumber:         DefaultMinNumber,
		MaxNumber:         DefaultMaxNumber,
		Bind:              WellKnown(),
		Remote:            WellKnown(),
		KeepAliveInterval: DefaultKeepAliveInterval,
		HelloInterval:     DefaultHelloInterval,
		HelloCount:        DefaultHelloCount,
		ExpiryTick:        DefaultExpiryTick,
		StatusInterval:    DefaultStatusInterval,
	}
}

// WithDefaults fills zero timing and identity fields. Ports are left as
// given since 0 is meaningful for Bind.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = d.Name
	}
	if c.DeviceType == 0 {
		c.DeviceType = d.DeviceType
	}
	if c.MinNumber == 0 {
		c.MinNumber = d.MinNumber
	}
	if c.MaxNumber == 0 {
		c.MaxNumber = d.MaxNumber
	}
	if c.Remote == (Endpoints{}) {
		c.Remote = d.Remote
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	if c.HelloInterval <= 0 {
		c.HelloInterval = d.HelloInterval
	}
	if c.HelloCount <= 0 {
		c.HelloCount = d.HelloCount
	}
	if c.ExpiryTick <= 0 {
		c.ExpiryTick = d.ExpiryTick
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	return c
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if len(c.Name) > 20 {
		return fmt.Errorf("%w: name %q exceeds 20 bytes", ErrInvalidConfig, c.Name)
	}
	for i := 0; i < len(c.Name); i++ {
		if c.Name[i] < 0x20 || c.Name[i] > 0x7e {
			return fmt.Errorf("%w: name %q is not printable ascii", ErrInvalidConfig, c.Name)
		}
	}
	if c.MinNumber == 0 || c.MinNumber > c.MaxNumber {
		return fmt.Errorf("%w: number range %d-%d", ErrInvalidConfig, c.MinNumber, c.MaxNumber)
	}
	if c.ListenIP.IsValid() && !c.ListenIP.Unmap().Is4() {
		return fmt.Errorf("%w: listen ip %s is not ipv4", ErrInvalidConfig, c.ListenIP)
	}
	if c.Broadcast.IsValid() && !c.Broadcast.Unmap().Is4() {
		return fmt.Errorf("%w: broadcast %s is not ipv4", ErrInvalidConfig, c.Broadcast)
	}
	for _, p := range protocol.Ports {
		if c.Remote.For(p) == 0 {
			return fmt.Errorf("%w: remote %s port is 0", ErrInvalidConfig, p)
		}
	}
	return nil
}

// chooseDeviceNumber returns preferred when it is non-zero and free,
// otherwise the lowest free number in [min, max] that is not in avoid.
func chooseDeviceNumber(preferred, min, max uint8, taken func(uint8) bool, avoid ...uint8) (uint8, bool) {
	skip := func(n uint8) bool {
		for _, a := range avoid {
			if n == a {
				return true
			}
		}
		return taken(n)
	}
	if preferred != 0 && !skip(preferred) {
		return preferred, true
	}
	for n := int(min); n <= int(max); n++ {
		if !skip(uint8(n)) {
			return uint8(n), true
		}
	}
	return 0, false
}
