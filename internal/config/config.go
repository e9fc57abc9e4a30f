// Package config loads the linkctl TOML file. Every key is optional; a key
// that is present overrides the built-in default.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/prolink/internal/directory"
	"github.com/danmuck/prolink/internal/logging"
	"github.com/danmuck/prolink/internal/participant"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved runtime configuration.
type Config struct {
	Participant   participant.Config
	Interface     string
	DeviceTimeout time.Duration
	Admin         AdminConfig
	LogLevel      string
}

// AdminConfig enables the HTTP query surface when Addr is set.
type AdminConfig struct {
	Addr        string
	CorsOrigins []string
}

func Default() Config {
	return Config{
		Participant:   participant.DefaultConfig(),
		DeviceTimeout: directory.DefaultTimeout,
		LogLevel:      "info",
	}
}

type fileConfig struct {
	Device  deviceSection  `toml:"device"`
	Network networkSection `toml:"network"`
	Timing  timingSection  `toml:"timing"`
	Status  statusSection  `toml:"status"`
	Admin   adminSection   `toml:"admin"`
	Log     logSection     `toml:"log"`
}

type deviceSection struct {
	Name      string `toml:"name"`
	Type      string `toml:"type"`
	Number    int    `toml:"number"`
	MinNumber int    `toml:"min_number"`
	MaxNumber int    `toml:"max_number"`
}

type networkSection struct {
	Interface string `toml:"interface"`
	ListenIP  string `toml:"listen_ip"`
	Broadcast string `toml:"broadcast"`
}

type timingSection struct {
	KeepAliveInterval string `toml:"keepalive_interval"`
	HelloInterval     string `toml:"hello_interval"`
	HelloCount        int    `toml:"hello_count"`
	ExpiryTick        string `toml:"expiry_tick"`
	DeviceTimeout     string `toml:"device_timeout"`
}

type statusSection struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

type adminSection struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type logSection struct {
	Level string `toml:"level"`
}

// Load reads path and overlays it on Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return resolve(raw, meta)
}

// Decode is Load for an in-memory document.
func Decode(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	cfg, err := overlay(Default(), raw, meta)
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	p := &cfg.Participant

	if meta.IsDefined("device", "name") {
		p.Name = strings.TrimSpace(raw.Device.Name)
	}
	if meta.IsDefined("device", "type") {
		dt, err := parseDeviceType(raw.Device.Type)
		if err != nil {
			return Config{}, err
		}
		p.DeviceType = dt
	}
	for _, f := range []struct {
		key string
		v   int
		out *uint8
	}{
		{"number", raw.Device.Number, &p.DeviceNumber},
		{"min_number", raw.Device.MinNumber, &p.MinNumber},
		{"max_number", raw.Device.MaxNumber, &p.MaxNumber},
	} {
		if !meta.IsDefined("device", f.key) {
			continue
		}
		if f.v < 0 || f.v > 0xff {
			return Config{}, fmt.Errorf("%w: device.%s %d out of range", ErrInvalid, f.key, f.v)
		}
		*f.out = uint8(f.v)
	}

	if meta.IsDefined("network", "interface") {
		cfg.Interface = strings.TrimSpace(raw.Network.Interface)
	}
	if meta.IsDefined("network", "listen_ip") {
		ip, err := parseAddr("network.listen_ip", raw.Network.ListenIP)
		if err != nil {
			return Config{}, err
		}
		p.ListenIP = ip
	}
	if meta.IsDefined("network", "broadcast") {
		ip, err := parseAddr("network.broadcast", raw.Network.Broadcast)
		if err != nil {
			return Config{}, err
		}
		p.Broadcast = ip
	}

	for _, f := range []struct {
		section, key, v string
		out             *time.Duration
	}{
		{"timing", "keepalive_interval", raw.Timing.KeepAliveInterval, &p.KeepAliveInterval},
		{"timing", "hello_interval", raw.Timing.HelloInterval, &p.HelloInterval},
		{"timing", "expiry_tick", raw.Timing.ExpiryTick, &p.ExpiryTick},
		{"timing", "device_timeout", raw.Timing.DeviceTimeout, &cfg.DeviceTimeout},
		{"status", "interval", raw.Status.Interval, &p.StatusInterval},
	} {
		if !meta.IsDefined(f.section, f.key) {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(f.v))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s.%s: %w", ErrInvalid, f.section, f.key, err)
		}
		*f.out = d
	}
	if meta.IsDefined("timing", "hello_count") {
		p.HelloCount = raw.Timing.HelloCount
	}
	if meta.IsDefined("status", "enabled") {
		p.SendStatus = raw.Status.Enabled
	}

	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeOrigins(raw.Admin.CorsOrigins)
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	return cfg, nil
}

// Validate checks the combined configuration. Timing values must be
// positive here even though the participant would default them.
func Validate(cfg Config) error {
	p := cfg.Participant
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: device.name is required", ErrInvalid)
	}
	if p.DeviceNumber != 0 && (p.DeviceNumber < p.MinNumber || p.DeviceNumber > p.MaxNumber) {
		return fmt.Errorf("%w: device.number %d outside %d-%d", ErrInvalid, p.DeviceNumber, p.MinNumber, p.MaxNumber)
	}
	for name, d := range map[string]time.Duration{
		"timing.keepalive_interval": p.KeepAliveInterval,
		"timing.hello_interval":     p.HelloInterval,
		"timing.expiry_tick":        p.ExpiryTick,
		"timing.device_timeout":     cfg.DeviceTimeout,
		"status.interval":           p.StatusInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	if p.HelloCount <= 0 {
		return fmt.Errorf("%w: timing.hello_count must be positive", ErrInvalid)
	}
	if cfg.DeviceTimeout <= p.KeepAliveInterval {
		return fmt.Errorf("%w: timing.device_timeout %s must exceed keepalive_interval %s", ErrInvalid, cfg.DeviceTimeout, p.KeepAliveInterval)
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: log.level %q", ErrInvalid, cfg.LogLevel)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func parseAddr(key, v string) (netip.Addr, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return netip.Addr{}, nil
	}
	ip, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	return ip, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		v := strings.TrimSpace(o)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
