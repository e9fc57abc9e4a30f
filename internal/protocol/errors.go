package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMagic  = errors.New("protocol: invalid magic")
	ErrUnknownPort   = errors.New("protocol: unknown port")
	ErrUnknownType   = errors.New("protocol: unrecognized packet type")
	ErrInvalidLength = errors.New("protocol: invalid length")
	ErrInvalidField  = errors.New("protocol: invalid field")
	ErrNilBody       = errors.New("protocol: nil body")
)

// DecodeError classifies a packet that failed header, type or length
// validation. Kind is one of the Err* sentinels above.
type DecodeError struct {
	Kind   error
	Port   Port
	Type   byte
	Length int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: port=%s type=0x%02x len=%d", e.Kind, e.Port, e.Type, e.Length)
	}
	return fmt.Sprintf("%v: port=%s type=0x%02x len=%d (%s)", e.Kind, e.Port, e.Type, e.Length, e.Detail)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func decodeErr(kind error, port Port, raw []byte, detail string) *DecodeError {
	e := &DecodeError{Kind: kind, Port: port, Length: len(raw), Detail: detail}
	if len(raw) > typeOffset {
		e.Type = raw[typeOffset]
	}
	return e
}

func fieldErr(field string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInvalidField, field, err)
}
