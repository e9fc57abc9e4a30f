package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	MagicLen   = 10
	TypeOffset = 0x0a

	// PitchUnity is the raw pitch value for 0% adjustment.
	PitchUnity uint32 = 0x100000
	PitchMax   uint32 = 0x200000

	// CueNone marks a player with no upcoming cue or loop.
	CueNone uint16 = 0x1ff

	// CueMaxBeats is the largest countdown a player reports (64 bars).
	CueMaxBeats uint16 = 256

	CuePlaceholder     = "--.-"
	CueUnrepresentable = "??.?"
)

// Magic is the header every DJ Link packet starts with ("Qspt1WmJOL").
var Magic = [MagicLen]byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6d, 0x4a, 0x4f, 0x4c}

var (
	ErrOutOfBounds    = errors.New("wire: field out of bounds")
	ErrCountdownRange = errors.New("wire: cue countdown out of range")
	ErrPitchRange     = errors.New("wire: pitch out of range")
	ErrNameTooLong    = errors.New("wire: name too long")
	ErrNameNotASCII   = errors.New("wire: name not ascii")
)

// Status flag bits.
const (
	FlagOnAir   byte = 0x08
	FlagSync    byte = 0x10
	FlagMaster  byte = 0x20
	FlagPlaying byte = 0x40
)

// HasMagic reports whether b begins with the protocol magic.
func HasMagic(b []byte) bool {
	return bytes.HasPrefix(b, Magic[:])
}

// PutMagic writes the protocol magic to the start of b.
func PutMagic(b []byte) {
	copy(b[:MagicLen], Magic[:])
}

// Uint combines n bytes at offset most-significant-first.
func Uint(b []byte, offset, n int) (uint64, error) {
	if offset < 0 || n < 1 || n > 8 || offset+n > len(b) {
		return 0, fmt.Errorf("%w: offset=%d n=%d len=%d", ErrOutOfBounds, offset, n, len(b))
	}
	var v uint64
	for _, c := range b[offset : offset+n] {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// PutUint writes the low n bytes of v at offset, most-significant-first.
func PutUint(b []byte, offset, n int, v uint64) error {
	if offset < 0 || n < 1 || n > 8 || offset+n > len(b) {
		return fmt.Errorf("%w: offset=%d n=%d len=%d", ErrOutOfBounds, offset, n, len(b))
	}
	for i := n - 1; i >= 0; i-- {
		b[offset+i] = byte(v)
		v >>= 8
	}
	return nil
}

// U8 through U32 read fixed-width fields from a buffer whose length the
// caller has already validated.
func U8(b []byte, offset int) uint8 { return b[offset] }

func U16(b []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(b[offset:])
}

// U24 and PutU24 have no encoding/binary counterpart.

func U24(b []byte, offset int) uint32 {
	return uint32(b[offset])<<16 | uint32(b[offset+1])<<8 | uint32(b[offset+2])
}

func U32(b []byte, offset int) uint32 {
	return binary.BigEndian.Uint32(b[offset:])
}

func PutU16(b []byte, offset int, v uint16) {
	binary.BigEndian.PutUint16(b[offset:], v)
}

func PutU24(b []byte, offset int, v uint32) {
	b[offset] = byte(v >> 16)
	b[offset+1] = byte(v >> 8)
	b[offset+2] = byte(v)
}

func PutU32(b []byte, offset int, v uint32) {
	binary.BigEndian.PutUint32(b[offset:], v)
}

// PitchPercent converts a raw 3-byte pitch value into a signed percentage.
func PitchPercent(raw uint32) float64 {
	return 100 * (float64(raw) - float64(PitchUnity)) / float64(PitchUnity)
}

// PitchRaw is the inverse of PitchPercent, rounded to the nearest raw step.
func PitchRaw(percent float64) (uint32, error) {
	if math.IsNaN(percent) || percent < -100 || percent > 100 {
		return 0, fmt.Errorf("%w: %v", ErrPitchRange, percent)
	}
	raw := math.Round(float64(PitchUnity) + percent*float64(PitchUnity)/100)
	return uint32(raw), nil
}

// Tempo converts a raw BPM*100 field into beats per minute.
func Tempo(raw uint16) float64 {
	return float64(raw) / 100
}

// TempoRaw is the inverse of Tempo.
func TempoRaw(bpm float64) uint16 {
	if bpm <= 0 || math.IsNaN(bpm) {
		return 0
	}
	v := math.Round(bpm * 100)
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// FormatCueCountdown renders a beat count as bars.beats remaining until
// the next cue.
func FormatCueCountdown(beats uint16) (string, error) {
	switch {
	case beats == CueNone:
		return CuePlaceholder, nil
	case beats == 0:
		return "00.0", nil
	case beats <= CueMaxBeats:
		return fmt.Sprintf("%02d.%d", (beats-1)/4, (beats-1)%4+1), nil
	default:
		return "", fmt.Errorf("%w: %#x", ErrCountdownRange, beats)
	}
}

// CueCountdown is the raw 2-byte beat countdown carried by player status.
type CueCountdown uint16

func (c CueCountdown) String() string {
	s, err := FormatCueCountdown(uint16(c))
	if err != nil {
		return CueUnrepresentable
	}
	return s
}

// None reports whether the player has no upcoming cue.
func (c CueCountdown) None() bool { return uint16(c) == CueNone }

// Name reads a fixed-width ASCII field, skipping zero bytes.
func Name(b []byte, offset, width int) string {
	if offset < 0 || offset >= len(b) {
		return ""
	}
	end := offset + width
	if end > len(b) {
		end = len(b)
	}
	out := make([]byte, 0, width)
	for _, c := range b[offset:end] {
		if c != 0 {
			out = append(out, c)
		}
	}
	return string(out)
}

// PutName writes name into a zero-padded fixed-width field.
func PutName(b []byte, offset, width int, name string) error {
	if len(name) > width {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrNameTooLong, name, width)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return fmt.Errorf("%w: %q", ErrNameNotASCII, name)
		}
	}
	if offset < 0 || offset+width > len(b) {
		return fmt.Errorf("%w: offset=%d width=%d len=%d", ErrOutOfBounds, offset, width, len(b))
	}
	field := b[offset : offset+width]
	for i := range field {
		field[i] = 0
	}
	copy(field, name)
	return nil
}

// Flags is the status byte of player and mixer status packets.
type Flags byte

func (f Flags) Playing() bool { return byte(f)&FlagPlaying != 0 }
func (f Flags) Master() bool  { return byte(f)&FlagMaster != 0 }
func (f Flags) Sync() bool    { return byte(f)&FlagSync != 0 }
func (f Flags) OnAir() bool   { return byte(f)&FlagOnAir != 0 }

// With returns f with bit set or cleared.
func (f Flags) With(bit byte, on bool) Flags {
	if on {
		return f | Flags(bit)
	}
	return f &^ Flags(bit)
}
