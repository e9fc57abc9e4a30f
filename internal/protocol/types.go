package protocol

import (
	"fmt"
	"strconv"

	"github.com/danmuck/prolink/internal/protocol/wire"
)

// Port is one of the three well-known DJ Link UDP ports.
type Port uint16

const (
	PortDiscovery Port = 50000
	PortBeat      Port = 50001
	PortStatus    Port = 50002
)

// Ports lists the well-known ports in bind order.
var Ports = []Port{PortDiscovery, PortBeat, PortStatus}

func (p Port) String() string {
	switch p {
	case PortDiscovery:
		return "discovery"
	case PortBeat:
		return "beat"
	case PortStatus:
		return "status"
	default:
		return strconv.Itoa(int(p))
	}
}

// Known reports whether p is one of the well-known ports.
func (p Port) Known() bool {
	return p == PortDiscovery || p == PortBeat || p == PortStatus
}

// Kind is the closed set of packet bodies this codec understands.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindHello
	KindKeepAlive
	KindNumberInUse
	KindBeat
	KindHandoffRequest
	KindHandoffResponse
	KindSyncControl
	KindCDJStatus
	KindMixerStatus
)

var kindNames = [...]string{
	KindUnrecognized:    "unrecognized",
	KindHello:           "hello",
	KindKeepAlive:       "keepalive",
	KindNumberInUse:     "number_in_use",
	KindBeat:            "beat",
	KindHandoffRequest:  "handoff_request",
	KindHandoffResponse: "handoff_response",
	KindSyncControl:     "sync_control",
	KindCDJStatus:       "cdj_status",
	KindMixerStatus:     "mixer_status",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Wire type bytes, found at offset 0x0a.
const (
	TypeHello           byte = 0x0a
	TypeKeepAlive       byte = 0x06
	TypeNumberInUse     byte = 0x08
	TypeBeat            byte = 0x28
	TypeHandoffRequest  byte = 0x26
	TypeHandoffResponse byte = 0x27
	TypeSyncControl     byte = 0x2a
	TypeCDJStatus       byte = 0x0a
	TypeMixerStatus     byte = 0x29
)

// Packet lengths.
const (
	LenHello           = 0x25
	LenKeepAlive       = 0x36
	LenNumberInUse     = 0x29
	LenBeat            = 0x60
	LenHandoffRequest  = 0x28
	LenHandoffResponse = 0x2c
	LenSyncControl     = 0x2c
	LenCDJStatus       = 0xd0
	LenCDJStatusLong   = 0xd4
	LenMixerStatus     = 0x38
)

const (
	typeOffset = wire.TypeOffset
	nameWidth  = 20

	// Discovery packets carry the name one byte later than beat and
	// status packets and store the total length at 0x22.
	discoveryNameOffset = 0x0c
	deviceNameOffset    = 0x0b
)

type layout struct {
	kind    Kind
	port    Port
	typ     byte
	lengths []int
}

var layouts = []layout{
	{kind: KindHello, port: PortDiscovery, typ: TypeHello, lengths: []int{LenHello}},
	{kind: KindKeepAlive, port: PortDiscovery, typ: TypeKeepAlive, lengths: []int{LenKeepAlive}},
	{kind: KindNumberInUse, port: PortDiscovery, typ: TypeNumberInUse, lengths: []int{LenNumberInUse}},
	{kind: KindBeat, port: PortBeat, typ: TypeBeat, lengths: []int{LenBeat}},
	{kind: KindHandoffRequest, port: PortBeat, typ: TypeHandoffRequest, lengths: []int{LenHandoffRequest}},
	{kind: KindHandoffResponse, port: PortBeat, typ: TypeHandoffResponse, lengths: []int{LenHandoffResponse}},
	{kind: KindSyncControl, port: PortBeat, typ: TypeSyncControl, lengths: []int{LenSyncControl}},
	{kind: KindCDJStatus, port: PortStatus, typ: TypeCDJStatus, lengths: []int{LenCDJStatus, LenCDJStatusLong}},
	{kind: KindMixerStatus, port: PortStatus, typ: TypeMixerStatus, lengths: []int{LenMixerStatus}},
}

func lookupLayout(port Port, typ byte) (layout, bool) {
	for _, l := range layouts {
		if l.port == port && l.typ == typ {
			return l, true
		}
	}
	return layout{}, false
}

func layoutFor(kind Kind) layout {
	for _, l := range layouts {
		if l.kind == kind {
			return l
		}
	}
	return layout{}
}

func (l layout) allows(n int) bool {
	for _, want := range l.lengths {
		if n == want {
			return true
		}
	}
	return false
}

// DeviceType is the role a device advertises in its keepalive.
type DeviceType uint8

const (
	DeviceTypePlayer    DeviceType = 0x01
	DeviceTypeMixer     DeviceType = 0x03
	DeviceTypeRekordbox DeviceType = 0x04
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypePlayer:
		return "player"
	case DeviceTypeMixer:
		return "mixer"
	case DeviceTypeRekordbox:
		return "rekordbox"
	default:
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
}

// SyncCommand is the instruction carried by a SyncControl packet.
type SyncCommand uint32

const (
	SyncBecomeMaster SyncCommand = 0x01
	SyncOn           SyncCommand = 0x10
	SyncOff          SyncCommand = 0x20
)

func (c SyncCommand) Known() bool {
	return c == SyncBecomeMaster || c == SyncOn || c == SyncOff
}

func (c SyncCommand) String() string {
	switch c {
	case SyncBecomeMaster:
		return "become_master"
	case SyncOn:
		return "sync_on"
	case SyncOff:
		return "sync_off"
	default:
		return fmt.Sprintf("command(%#x)", uint32(c))
	}
}

// PlayState is the player activity byte at 0x7b of a CDJ status packet.
type PlayState uint8

const (
	PlayNoTrack    PlayState = 0x00
	PlayLoading    PlayState = 0x02
	PlayPlaying    PlayState = 0x03
	PlayLooping    PlayState = 0x04
	PlayPaused     PlayState = 0x05
	PlayCued       PlayState = 0x06
	PlayCuePlaying PlayState = 0x07
	PlayCueScratch PlayState = 0x08
	PlaySearching  PlayState = 0x09
	PlaySpunDown   PlayState = 0x0e
	PlayTrackEnded PlayState = 0x11
)

// USB media state bytes.
const (
	MediaLoaded    uint8 = 0x00
	MediaUnloading uint8 = 0x02
	MediaAbsent    uint8 = 0x04

	USBIdle   uint8 = 0x04
	USBActive uint8 = 0x06
)

// NoHandoff is the master-handoff byte when no handoff is in progress.
const NoHandoff uint8 = 0xff
