package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func FuzzDecode(f *testing.F) {
	for _, b := range sampleBodies() {
		raw, err := Encode(b)
		if err != nil {
			f.Fatalf("seed %s: %v", b.Kind(), err)
		}
		f.Add(raw, uint16(layoutFor(b.Kind()).port))
	}
	f.Add([]byte{}, uint16(PortBeat))
	f.Add([]byte("Qspt1WmJOL"), uint16(PortStatus))

	f.Fuzz(func(t *testing.T, raw []byte, port uint16) {
		pkt, err := Decode(raw, Port(port))
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("decode failure must be a *DecodeError, got %T", err)
			}
			return
		}
		// Any packet that decodes must survive a re-encode of its body
		// with header and decoded fields intact.
		again, err := Encode(pkt.Body)
		if err != nil {
			return
		}
		pkt2, err := Decode(again, pkt.Port)
		if err != nil {
			t.Fatalf("re-encoded %s failed to decode: %v", pkt.Kind, err)
		}
		if !bodiesEqual(pkt.Body, pkt2.Body) {
			t.Fatalf("re-encoded %s drifted:\n got  %+v\n want %+v", pkt.Kind, pkt2.Body, pkt.Body)
		}
	})
}

func TestDecodeArbitraryBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	seeds := sampleBodies()
	for i := 0; i < 5000; i++ {
		var raw []byte
		port := Ports[rng.Intn(len(Ports))]
		if i%2 == 0 {
			raw = make([]byte, rng.Intn(260))
			rng.Read(raw)
		} else {
			// Valid header, mutated tail: exercises the body decoders.
			b := seeds[rng.Intn(len(seeds))]
			enc, err := Encode(b)
			if err != nil {
				t.Fatalf("encode seed: %v", err)
			}
			raw = bytes.Clone(enc)
			for j := 0; j < 8; j++ {
				raw[wireHeaderEnd+rng.Intn(len(raw)-wireHeaderEnd)] = byte(rng.Intn(256))
			}
			port = layoutFor(b.Kind()).port
		}
		pkt, err := Decode(raw, port)
		if err == nil && pkt.Body == nil {
			t.Fatalf("decoded packet without body")
		}
	}
}

// wireHeaderEnd is the first byte after the common header.
const wireHeaderEnd = 0x24
