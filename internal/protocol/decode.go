package protocol

import (
	"fmt"
	"net/netip"

	"github.com/danmuck/prolink/internal/protocol/wire"
)

// Decode classifies and parses one datagram received on port. It never
// panics; any buffer failing the magic, type or length checks yields a
// *DecodeError.
func Decode(raw []byte, port Port) (*Packet, error) {
	if len(raw) < wire.MagicLen {
		return nil, decodeErr(ErrInvalidLength, port, raw, "shorter than magic header")
	}
	if !wire.HasMagic(raw) {
		return nil, decodeErr(ErrInvalidMagic, port, raw, "")
	}
	if len(raw) <= typeOffset {
		return nil, decodeErr(ErrInvalidLength, port, raw, "missing type byte")
	}
	if !port.Known() {
		return nil, decodeErr(ErrUnknownPort, port, raw, "")
	}
	typ := raw[typeOffset]
	l, ok := lookupLayout(port, typ)
	if !ok {
		return nil, decodeErr(ErrUnknownType, port, raw, "")
	}
	if !l.allows(len(raw)) {
		return nil, decodeErr(ErrInvalidLength, port, raw, fmt.Sprintf("want %v", l.lengths))
	}

	buf := make([]byte, len(raw))
	copy(buf, raw)

	var body Body
	switch l.kind {
	case KindHello:
		body = decodeHello(buf)
	case KindKeepAlive:
		body = decodeKeepAlive(buf)
	case KindNumberInUse:
		body = decodeNumberInUse(buf)
	case KindBeat:
		body = decodeBeat(buf)
	case KindHandoffRequest:
		body = decodeHandoffRequest(buf)
	case KindHandoffResponse:
		body = decodeHandoffResponse(buf)
	case KindSyncControl:
		body = decodeSyncControl(buf)
	case KindCDJStatus:
		body = decodeCDJStatus(buf)
	case KindMixerStatus:
		body = decodeMixerStatus(buf)
	default:
		return nil, decodeErr(ErrUnknownType, port, raw, "no decoder")
	}

	return &Packet{Port: port, Type: typ, Kind: l.kind, Raw: buf, Body: body}, nil
}

func discoveryName(b []byte) string { return wire.Name(b, discoveryNameOffset, nameWidth) }
func deviceName(b []byte) string    { return wire.Name(b, deviceNameOffset, nameWidth) }

func ipv4At(b []byte, offset int) netip.Addr {
	return netip.AddrFrom4([4]byte{b[offset], b[offset+1], b[offset+2], b[offset+3]})
}

func decodeHello(b []byte) *Hello {
	return &Hello{
		Name:       discoveryName(b),
		DeviceType: DeviceType(b[0x24]),
	}
}

func decodeKeepAlive(b []byte) *KeepAlive {
	ka := &KeepAlive{
		Name:       discoveryName(b),
		Number:     b[0x24],
		DeviceType: DeviceType(b[0x34]),
		IP:         ipv4At(b, 0x2c),
		PeersSeen:  b[0x30],
	}
	copy(ka.MAC[:], b[0x26:0x2c])
	return ka
}

func decodeNumberInUse(b []byte) *NumberInUse {
	return &NumberInUse{
		Name:   discoveryName(b),
		Number: b[0x24],
		IP:     ipv4At(b, 0x25),
	}
}

func decodeBeat(b []byte) *Beat {
	return &Beat{
		Name:       deviceName(b),
		Number:     b[0x21],
		NextBeat:   wire.U32(b, 0x24),
		SecondBeat: wire.U32(b, 0x28),
		NextBar:    wire.U32(b, 0x2c),
		FourthBeat: wire.U32(b, 0x30),
		SecondBar:  wire.U32(b, 0x34),
		EighthBeat: wire.U32(b, 0x38),
		Pitch:      wire.U24(b, 0x55),
		BPM:        wire.U16(b, 0x5a),
		BeatInBar:  b[0x5c],
	}
}

func decodeHandoffRequest(b []byte) *HandoffRequest {
	return &HandoffRequest{
		Name:   deviceName(b),
		Number: b[0x21],
	}
}

func decodeHandoffResponse(b []byte) *HandoffResponse {
	return &HandoffResponse{
		Name:     deviceName(b),
		Number:   b[0x21],
		Accepted: wire.U32(b, 0x28) == 1,
	}
}

func decodeSyncControl(b []byte) *SyncControl {
	return &SyncControl{
		Name:    deviceName(b),
		Number:  b[0x21],
		Command: SyncCommand(wire.U32(b, 0x28)),
	}
}

func decodeCDJStatus(b []byte) *CDJStatus {
	return &CDJStatus{
		Name:              deviceName(b),
		Number:            b[0x21],
		Length:            len(b),
		TrackSourcePlayer: b[0x27],
		TrackSourceSlot:   b[0x28],
		TrackType:         b[0x29],
		RekordboxID:       wire.U32(b, 0x2c),
		TrackNumber:       wire.U16(b, 0x32),
		USBActivity:       b[0x6f],
		USBLocal:          b[0x73],
		PlayState:         PlayState(b[0x7b]),
		Firmware:          wire.Name(b, 0x7c, 4),
		SyncCounter:       wire.U32(b, 0x84),
		Flags:             wire.Flags(b[0x89]),
		PlayState2:        b[0x8b],
		Pitch:             wire.U24(b, 0x8d),
		BPM:               wire.U16(b, 0x92),
		PlayState3:        b[0x9d],
		MasterMeaning:     b[0x9e],
		MasterHandoff:     b[0x9f],
		BeatCount:         wire.U32(b, 0xa0),
		CueCountdown:      wire.CueCountdown(wire.U16(b, 0xa4)),
		BeatInBar:         b[0xa6],
		PacketCounter:     wire.U32(b, 0xc8),
	}
}

func decodeMixerStatus(b []byte) *MixerStatus {
	return &MixerStatus{
		Name:          deviceName(b),
		Number:        b[0x21],
		Flags:         wire.Flags(b[0x27]),
		Pitch:         wire.U24(b, 0x29),
		BPM:           wire.U16(b, 0x2e),
		MasterHandoff: b[0x36],
		BeatInBar:     b[0x37],
	}
}
