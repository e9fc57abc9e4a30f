package protocol

import (
	"fmt"
	"net/netip"

	"github.com/danmuck/prolink/internal/protocol/wire"
)

// Encode renders body into its wire form. For every body that passes
// validation, Decode(Encode(b)) yields a body equal to b.
func Encode(body Body) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, ErrNilBody
	case *Hello:
		return encodeHello(b)
	case *KeepAlive:
		return encodeKeepAlive(b)
	case *NumberInUse:
		return encodeNumberInUse(b)
	case *Beat:
		return encodeBeat(b)
	case *HandoffRequest:
		return encodeHandoffRequest(b)
	case *HandoffResponse:
		return encodeHandoffResponse(b)
	case *SyncControl:
		return encodeSyncControl(b)
	case *CDJStatus:
		return encodeCDJStatus(b)
	case *MixerStatus:
		return encodeMixerStatus(b)
	default:
		return nil, fmt.Errorf("%w: unsupported body %T", ErrInvalidField, body)
	}
}

// EncodePacket is Encode followed by Decode, for callers that want the
// immutable Packet view of what they are about to send.
func EncodePacket(body Body) (*Packet, error) {
	raw, err := Encode(body)
	if err != nil {
		return nil, err
	}
	return Decode(raw, layoutFor(body.Kind()).port)
}

// newDiscoveryPacket lays out the discovery-port header: name at 0x0c,
// 0x20 fixed, 0x21 subtype, 0x22-0x23 total length.
func newDiscoveryPacket(typ byte, subtype byte, length int, name string) ([]byte, error) {
	b := make([]byte, length)
	wire.PutMagic(b)
	b[typeOffset] = typ
	if err := wire.PutName(b, discoveryNameOffset, nameWidth, name); err != nil {
		return nil, fieldErr("name", err)
	}
	b[0x20] = 0x01
	b[0x21] = subtype
	wire.PutU16(b, 0x22, uint16(length))
	return b, nil
}

// newDevicePacket lays out the beat/status-port header: name at 0x0b,
// 0x1f fixed, 0x20 subtype, 0x21 device, 0x22-0x23 bytes remaining.
func newDevicePacket(typ byte, subtype byte, length int, name string, number uint8) ([]byte, error) {
	if number == 0 {
		return nil, fieldErr("number", fmt.Errorf("device number must be 1-255"))
	}
	b := make([]byte, length)
	wire.PutMagic(b)
	b[typeOffset] = typ
	if err := wire.PutName(b, deviceNameOffset, nameWidth, name); err != nil {
		return nil, fieldErr("name", err)
	}
	b[0x1f] = 0x01
	b[0x20] = subtype
	b[0x21] = number
	wire.PutU16(b, 0x22, uint16(length-0x24))
	return b, nil
}

func putIPv4(b []byte, offset int, ip netip.Addr, field string) error {
	ip = ip.Unmap()
	if !ip.Is4() {
		return fieldErr(field, fmt.Errorf("not an IPv4 address: %v", ip))
	}
	a := ip.As4()
	copy(b[offset:offset+4], a[:])
	return nil
}

func checkPitch(raw uint32) error {
	if raw > wire.PitchMax {
		return fieldErr("pitch", fmt.Errorf("%#x exceeds %#x", raw, wire.PitchMax))
	}
	return nil
}

func encodeHello(h *Hello) ([]byte, error) {
	b, err := newDiscoveryPacket(TypeHello, 0x01, LenHello, h.Name)
	if err != nil {
		return nil, err
	}
	b[0x24] = byte(h.DeviceType)
	return b, nil
}

func encodeKeepAlive(ka *KeepAlive) ([]byte, error) {
	if ka.Number == 0 {
		return nil, fieldErr("number", fmt.Errorf("device number must be 1-255"))
	}
	b, err := newDiscoveryPacket(TypeKeepAlive, 0x02, LenKeepAlive, ka.Name)
	if err != nil {
		return nil, err
	}
	b[0x24] = ka.Number
	b[0x25] = 0x01
	copy(b[0x26:0x2c], ka.MAC[:])
	if err := putIPv4(b, 0x2c, ka.IP, "ip"); err != nil {
		return nil, err
	}
	b[0x30] = ka.PeersSeen
	b[0x34] = byte(ka.DeviceType)
	return b, nil
}

func encodeNumberInUse(n *NumberInUse) ([]byte, error) {
	if n.Number == 0 {
		return nil, fieldErr("number", fmt.Errorf("device number must be 1-255"))
	}
	b, err := newDiscoveryPacket(TypeNumberInUse, 0x02, LenNumberInUse, n.Name)
	if err != nil {
		return nil, err
	}
	b[0x24] = n.Number
	if err := putIPv4(b, 0x25, n.IP, "ip"); err != nil {
		return nil, err
	}
	return b, nil
}

func encodeBeat(bt *Beat) ([]byte, error) {
	if err := checkPitch(bt.Pitch); err != nil {
		return nil, err
	}
	b, err := newDevicePacket(TypeBeat, 0x00, LenBeat, bt.Name, bt.Number)
	if err != nil {
		return nil, err
	}
	wire.PutU32(b, 0x24, bt.NextBeat)
	wire.PutU32(b, 0x28, bt.SecondBeat)
	wire.PutU32(b, 0x2c, bt.NextBar)
	wire.PutU32(b, 0x30, bt.FourthBeat)
	wire.PutU32(b, 0x34, bt.SecondBar)
	wire.PutU32(b, 0x38, bt.EighthBeat)
	for i := 0x3c; i < 0x54; i++ {
		b[i] = 0xff
	}
	wire.PutU24(b, 0x55, bt.Pitch)
	wire.PutU16(b, 0x5a, bt.BPM)
	b[0x5c] = bt.BeatInBar
	b[0x5f] = bt.Number
	return b, nil
}

func encodeHandoffRequest(r *HandoffRequest) ([]byte, error) {
	b, err := newDevicePacket(TypeHandoffRequest, 0x00, LenHandoffRequest, r.Name, r.Number)
	if err != nil {
		return nil, err
	}
	wire.PutU32(b, 0x24, uint32(r.Number))
	return b, nil
}

func encodeHandoffResponse(r *HandoffResponse) ([]byte, error) {
	b, err := newDevicePacket(TypeHandoffResponse, 0x00, LenHandoffResponse, r.Name, r.Number)
	if err != nil {
		return nil, err
	}
	wire.PutU32(b, 0x24, uint32(r.Number))
	if r.Accepted {
		wire.PutU32(b, 0x28, 1)
	}
	return b, nil
}

func encodeSyncControl(s *SyncControl) ([]byte, error) {
	if !s.Command.Known() {
		return nil, fieldErr("command", fmt.Errorf("unknown sync command %v", s.Command))
	}
	b, err := newDevicePacket(TypeSyncControl, 0x00, LenSyncControl, s.Name, s.Number)
	if err != nil {
		return nil, err
	}
	wire.PutU32(b, 0x24, uint32(s.Number))
	wire.PutU32(b, 0x28, uint32(s.Command))
	return b, nil
}

func encodeCDJStatus(s *CDJStatus) ([]byte, error) {
	length := s.Length
	var subtype byte
	switch length {
	case LenCDJStatus:
		subtype = 0x03
	case LenCDJStatusLong:
		subtype = 0x04
	default:
		return nil, fieldErr("length", fmt.Errorf("%d is not %d or %d", length, LenCDJStatus, LenCDJStatusLong))
	}
	if err := checkPitch(s.Pitch); err != nil {
		return nil, err
	}
	b, err := newDevicePacket(TypeCDJStatus, subtype, length, s.Name, s.Number)
	if err != nil {
		return nil, err
	}
	b[0x24] = s.Number
	b[0x27] = s.TrackSourcePlayer
	b[0x28] = s.TrackSourceSlot
	b[0x29] = s.TrackType
	wire.PutU32(b, 0x2c, s.RekordboxID)
	wire.PutU16(b, 0x32, s.TrackNumber)
	b[0x6f] = s.USBActivity
	b[0x73] = s.USBLocal
	b[0x7b] = byte(s.PlayState)
	if err := wire.PutName(b, 0x7c, 4, s.Firmware); err != nil {
		return nil, fieldErr("firmware", err)
	}
	wire.PutU32(b, 0x84, s.SyncCounter)
	b[0x89] = byte(s.Flags)
	b[0x8b] = s.PlayState2
	wire.PutU24(b, 0x8d, s.Pitch)
	wire.PutU16(b, 0x92, s.BPM)
	b[0x9d] = s.PlayState3
	b[0x9e] = s.MasterMeaning
	b[0x9f] = s.MasterHandoff
	wire.PutU32(b, 0xa0, s.BeatCount)
	wire.PutU16(b, 0xa4, uint16(s.CueCountdown))
	b[0xa6] = s.BeatInBar
	wire.PutU32(b, 0xc8, s.PacketCounter)
	return b, nil
}

func encodeMixerStatus(s *MixerStatus) ([]byte, error) {
	if err := checkPitch(s.Pitch); err != nil {
		return nil, err
	}
	b, err := newDevicePacket(TypeMixerStatus, 0x00, LenMixerStatus, s.Name, s.Number)
	if err != nil {
		return nil, err
	}
	b[0x24] = s.Number
	b[0x27] = byte(s.Flags)
	wire.PutU24(b, 0x29, s.Pitch)
	wire.PutU16(b, 0x2e, s.BPM)
	b[0x36] = s.MasterHandoff
	b[0x37] = s.BeatInBar
	return b, nil
}
