package wire

import (
	"bytes"
	"testing"
)

// FuzzFrameRoundTrip ensures WriteFrame emits a u32 big-endian length
// header matching the payload followed by the payload unchanged,
// regardless of its byte content, decoding a bytes.Buffer by hand.
func FuzzFrameRoundTrip(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("hello"))
	f.Add(bytes.Repeat([]byte{0xAB}, 5000))
	f.Fuzz(func(t *testing.T, payload []byte) {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		var hdr [4]byte
		if _, err := buf.Read(hdr[:]); err != nil {
			t.Fatalf("read header: %v", err)
		}
		n := int(hdr[0])<<24 | int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		if n != len(payload) {
			t.Fatalf("length mismatch: got %d want %d", n, len(payload))
		}
		got := buf.Bytes()
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch: got %x want %x", got, payload)
		}
	})
}

// FuzzEnvelopeRoundTrip ensures Pack/Unpack round-trips regardless of
// threshold placement, exercising both the compressed and uncompressed
// branches.
func FuzzEnvelopeRoundTrip(f *testing.F) {
	f.Add([]byte("small"), 1024)
	f.Add(bytes.Repeat([]byte{0x42}, 5000), 1024)
	f.Add([]byte{}, 0)
	f.Fuzz(func(t *testing.T, inner []byte, threshold int) {
		if threshold < 0 {
			threshold = -threshold
		}
		env, err := Pack(inner, threshold)
		if err != nil {
			t.Fatalf("Pack: %v", err)
		}
		wantCompressed := threshold > 0 && len(inner) > threshold
		if gotCompressed := env.Flags&Compressed != 0; gotCompressed != wantCompressed {
			t.Fatalf("compressed flag = %v, want %v (inner %d bytes, threshold %d)",
				gotCompressed, wantCompressed, len(inner), threshold)
		}
		raw := env.Marshal()
		decoded, err := UnmarshalEnvelope(raw)
		if err != nil {
			t.Fatalf("UnmarshalEnvelope: %v", err)
		}
		got, err := decoded.Unpack()
		if err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		if !bytes.Equal(got, inner) && !(len(got) == 0 && len(inner) == 0) {
			t.Fatalf("round trip mismatch: got %x want %x", got, inner)
		}
	})
}
