package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Flags are the envelope bits carried alongside every frame payload.
type Flags uint16

const (
	// Initialized is always set; bit 0x0 is reserved on the wire.
	Initialized Flags = 0x0
	// Compressed marks the payload as gzip of the inner serialized
	// message rather than the message itself.
	Compressed Flags = 0x1
	// FromNN is set by the broker when forwarding predictor-origin
	// traffic back into the pub/sub fabric; the predictor ignores it.
	FromNN Flags = 0x4
)

// Envelope wraps a serialized message with compression bookkeeping.
type Envelope struct {
	Flags   Flags
	Payload []byte
}

// Pack builds an Envelope for inner, gzip-compressing it iff its
// length exceeds threshold.
func Pack(inner []byte, threshold int) (Envelope, error) {
	if threshold > 0 && len(inner) > threshold {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(inner); err != nil {
			return Envelope{}, fmt.Errorf("%w: gzip write: %v", ErrCompression, err)
		}
		if err := gw.Close(); err != nil {
			return Envelope{}, fmt.Errorf("%w: gzip close: %v", ErrCompression, err)
		}
		return Envelope{Flags: Initialized | Compressed, Payload: buf.Bytes()}, nil
	}
	return Envelope{Flags: Initialized, Payload: inner}, nil
}

// Unpack returns the decompressed message bytes.
func (e Envelope) Unpack() ([]byte, error) {
	if e.Flags&Compressed == 0 {
		return e.Payload, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(e.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip reader: %v", ErrCompression, err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip read: %v", ErrCompression, err)
	}
	return out, nil
}

// Marshal serializes the envelope as it travels on the wire: a 2-byte
// big-endian flags field followed by the (possibly compressed) payload.
func (e Envelope) Marshal() []byte {
	out := make([]byte, 2+len(e.Payload))
	binary.BigEndian.PutUint16(out[:2], uint16(e.Flags))
	copy(out[2:], e.Payload)
	return out
}

// UnmarshalEnvelope parses the wire form produced by Marshal.
func UnmarshalEnvelope(raw []byte) (Envelope, error) {
	if len(raw) < 2 {
		return Envelope{}, fmt.Errorf("%w: envelope too short (%d bytes)", ErrSerialize, len(raw))
	}
	flags := Flags(binary.BigEndian.Uint16(raw[:2]))
	payload := raw[2:]
	return Envelope{Flags: flags, Payload: payload}, nil
}
