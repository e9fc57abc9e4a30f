package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/danmuck/prolink/internal/protocol"
)

func parseDeviceType(v string) (protocol.DeviceType, error) {
	switch s := strings.ToLower(strings.TrimSpace(v)); s {
	case "player", "cdj":
		return protocol.DeviceTypePlayer, nil
	case "mixer", "djm":
		return protocol.DeviceTypeMixer, nil
	case "rekordbox":
		return protocol.DeviceTypeRekordbox, nil
	default:
		n, err := strconv.ParseUint(s, 0, 8)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("%w: device.type %q", ErrInvalid, v)
		}
		return protocol.DeviceType(n), nil
	}
}

func formatDeviceType(t protocol.DeviceType) string {
	switch t {
	case protocol.DeviceTypePlayer, protocol.DeviceTypeMixer, protocol.DeviceTypeRekordbox:
		return t.String()
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

func formatAddr(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

// toFile is the inverse of overlay, used to render templates.
func toFile(cfg Config) fileConfig {
	p := cfg.Participant
	origins := cfg.Admin.CorsOrigins
	if origins == nil {
		origins = []string{}
	}
	return fileConfig{
		Device: deviceSection{
			Name:      p.Name,
			Type:      formatDeviceType(p.DeviceType),
			Number:    int(p.DeviceNumber),
			MinNumber: int(p.MinNumber),
			MaxNumber: int(p.MaxNumber),
		},
		Network: networkSection{
			Interface: cfg.Interface,
			ListenIP:  formatAddr(p.ListenIP),
			Broadcast: formatAddr(p.Broadcast),
		},
		Timing: timingSection{
			KeepAliveInterval: p.KeepAliveInterval.String(),
			HelloInterval:     p.HelloInterval.String(),
			HelloCount:        p.HelloCount,
			ExpiryTick:        p.ExpiryTick.String(),
			DeviceTimeout:     cfg.DeviceTimeout.String(),
		},
		Status: statusSection{
			Enabled:  p.SendStatus,
			Interval: p.StatusInterval.String(),
		},
		Admin: adminSection{
			Addr:        cfg.Admin.Addr,
			CorsOrigins: origins,
		},
		Log: logSection{Level: cfg.LogLevel},
	}
}
