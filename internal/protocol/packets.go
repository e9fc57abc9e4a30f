package protocol

import (
	"fmt"
	"net/netip"

	"github.com/danmuck/prolink/internal/protocol/wire"
)

// Body is the decoded field set of one packet. The set of implementations
// is closed to this package.
type Body interface {
	Kind() Kind
	// DeviceNumber is the sender's device number, or 0 when the packet
	// carries none (a Hello from a device still claiming a number).
	DeviceNumber() uint8
	body()
}

// Packet is one decoded datagram. Raw is a private copy of the input.
type Packet struct {
	Port Port
	Type byte
	Kind Kind
	Raw  []byte
	Body Body
}

// Device returns the sender's device number, 0 if unknown.
func (p *Packet) Device() uint8 {
	if p == nil || p.Body == nil {
		return 0
	}
	return p.Body.DeviceNumber()
}

// MAC is a 6-byte hardware address kept comparable so bodies can be
// compared with ==.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (m MAC) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Hello is the first broadcast a device sends when joining the network.
type Hello struct {
	Name       string
	DeviceType DeviceType
}

// KeepAlive is the periodic identity broadcast on the discovery port.
type KeepAlive struct {
	Name       string
	Number     uint8
	DeviceType DeviceType
	MAC        MAC
	IP         netip.Addr
	PeersSeen  uint8
}

// NumberInUse is sent by a device defending its number against a claim.
type NumberInUse struct {
	Name   string
	Number uint8
	IP     netip.Addr
}

// Beat is the 96-byte beat-timing packet. Timing fields are milliseconds
// until the named event at the current tempo. Pitch and BPM stay raw so
// encode/decode is lossless.
type Beat struct {
	Name       string
	Number     uint8
	NextBeat   uint32
	SecondBeat uint32
	NextBar    uint32
	FourthBeat uint32
	SecondBar  uint32
	EighthBeat uint32
	Pitch      uint32
	BPM        uint16
	BeatInBar  uint8
}

func (b *Beat) PitchPercent() float64 { return wire.PitchPercent(b.Pitch) }
func (b *Beat) Tempo() float64        { return wire.Tempo(b.BPM) }

// EffectiveTempo is the track tempo adjusted by the current pitch.
func (b *Beat) EffectiveTempo() float64 {
	return b.Tempo() * (1 + b.PitchPercent()/100)
}

// HandoffRequest announces that Number wants to become tempo master. It is
// sent to the current master.
type HandoffRequest struct {
	Name   string
	Number uint8
}

// HandoffResponse answers a HandoffRequest. Number is the responding
// (yielding) master.
type HandoffResponse struct {
	Name     string
	Number   uint8
	Accepted bool
}

// SyncControl is a directed command, usually issued by a mixer.
type SyncControl struct {
	Name    string
	Number  uint8
	Command SyncCommand
}

// CDJStatus is the player-class status packet. Length selects the 208 or
// 212 byte generation.
type CDJStatus struct {
	Name              string
	Number            uint8
	Length            int
	TrackSourcePlayer uint8
	TrackSourceSlot   uint8
	TrackType         uint8
	RekordboxID       uint32
	TrackNumber       uint16
	USBActivity       uint8
	USBLocal          uint8
	PlayState         PlayState
	Firmware          string
	SyncCounter       uint32
	Flags             wire.Flags
	PlayState2        uint8
	Pitch             uint32
	BPM               uint16
	PlayState3        uint8
	MasterMeaning     uint8
	MasterHandoff     uint8
	BeatCount         uint32
	CueCountdown      wire.CueCountdown
	BeatInBar         uint8
	PacketCounter     uint32
}

func (s *CDJStatus) Playing() bool         { return s.Flags.Playing() }
func (s *CDJStatus) IsMaster() bool        { return s.Flags.Master() }
func (s *CDJStatus) Synced() bool          { return s.Flags.Sync() }
func (s *CDJStatus) OnAir() bool           { return s.Flags.OnAir() }
func (s *CDJStatus) PitchPercent() float64 { return wire.PitchPercent(s.Pitch) }
func (s *CDJStatus) Tempo() float64        { return wire.Tempo(s.BPM) }

// TrackLoaded reports whether the player has a track in its deck.
func (s *CDJStatus) TrackLoaded() bool {
	return s.TrackType != 0 && s.PlayState != PlayNoTrack
}

// USBMounted reports whether local USB media is present and mounted.
func (s *CDJStatus) USBMounted() bool { return s.USBLocal == MediaLoaded }

// USBBusy reports whether the player is reading its USB media.
func (s *CDJStatus) USBBusy() bool { return s.USBActivity == USBActive }

// MixerStatus is the mixer-class status packet.
type MixerStatus struct {
	Name          string
	Number        uint8
	Flags         wire.Flags
	Pitch         uint32
	BPM           uint16
	MasterHandoff uint8
	BeatInBar     uint8
}

func (s *MixerStatus) IsMaster() bool { return s.Flags.Master() }
func (s *MixerStatus) Synced() bool   { return s.Flags.Sync() }
func (s *MixerStatus) Tempo() float64 { return wire.Tempo(s.BPM) }

func (*Hello) Kind() Kind           { return KindHello }
func (*KeepAlive) Kind() Kind       { return KindKeepAlive }
func (*NumberInUse) Kind() Kind     { return KindNumberInUse }
func (*Beat) Kind() Kind            { return KindBeat }
func (*HandoffRequest) Kind() Kind  { return KindHandoffRequest }
func (*HandoffResponse) Kind() Kind { return KindHandoffResponse }
func (*SyncControl) Kind() Kind     { return KindSyncControl }
func (*CDJStatus) Kind() Kind       { return KindCDJStatus }
func (*MixerStatus) Kind() Kind     { return KindMixerStatus }

func (*Hello) DeviceNumber() uint8             { return 0 }
func (b *KeepAlive) DeviceNumber() uint8       { return b.Number }
func (b *NumberInUse) DeviceNumber() uint8     { return b.Number }
func (b *Beat) DeviceNumber() uint8            { return b.Number }
func (b *HandoffRequest) DeviceNumber() uint8  { return b.Number }
func (b *HandoffResponse) DeviceNumber() uint8 { return b.Number }
func (b *SyncControl) DeviceNumber() uint8     { return b.Number }
func (b *CDJStatus) DeviceNumber() uint8       { return b.Number }
func (b *MixerStatus) DeviceNumber() uint8     { return b.Number }

func (*Hello) body()           {}
func (*KeepAlive) body()       {}
func (*NumberInUse) body()     {}
func (*Beat) body()            {}
func (*HandoffRequest) body()  {}
func (*HandoffResponse) body() {}
func (*SyncControl) body()     {}
func (*CDJStatus) body()       {}
func (*MixerStatus) body()     {}
