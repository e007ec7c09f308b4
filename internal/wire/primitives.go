package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoder accumulates the tagged-union field encoding shared by every
// message type in rlproto and passive: a one-byte tag followed by a
// sequence of length-prefixed primitives.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with its tag byte already written.
func NewEncoder(tag byte) *Encoder {
	return &Encoder{buf: append([]byte{}, tag)}
}

// Bytes returns the accumulated encoding.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutUint32 appends a big-endian u32.
func (e *Encoder) PutUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// PutUint64 appends a big-endian u64.
func (e *Encoder) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// PutFloat64 appends a big-endian IEEE-754 f64.
func (e *Encoder) PutFloat64(v float64) {
	e.PutUint64(math.Float64bits(v))
}

// PutBytes appends a u32 length prefix followed by data.
func (e *Encoder) PutBytes(data []byte) {
	e.PutUint32(uint32(len(data)))
	e.buf = append(e.buf, data...)
}

// PutString appends a u32 length prefix followed by the UTF-8 bytes.
func (e *Encoder) PutString(s string) {
	e.PutBytes([]byte(s))
}

// PutUint32Slice appends a u32 count followed by that many u32 values.
func (e *Encoder) PutUint32Slice(vals []uint32) {
	e.PutUint32(uint32(len(vals)))
	for _, v := range vals {
		e.PutUint32(v)
	}
}

// PutUint16 appends a big-endian u16.
func (e *Encoder) PutUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// Decoder walks a tagged-union encoding produced by Encoder.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps raw for field-by-field decoding. The tag byte must be
// read separately via Tag before constructing one, typically by the
// caller peeking raw[0].
func NewDecoder(raw []byte) *Decoder {
	return &Decoder{buf: raw}
}

// Tag returns the first byte of raw without advancing a Decoder.
func Tag(raw []byte) (byte, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: empty message", ErrSerialize)
	}
	return raw[0], nil
}

// Skip advances past the tag byte; call once after NewDecoder.
func (d *Decoder) Skip(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("%w: truncated message", ErrSerialize)
	}
	d.pos += n
	return nil
}

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("%w: truncated message", ErrSerialize)
	}
	return nil
}

// Uint32 reads a big-endian u32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

// Uint64 reads a big-endian u64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

// Uint16 reads a big-endian u16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

// Float64 reads a big-endian IEEE-754 f64.
func (d *Decoder) Float64() (float64, error) {
	v, err := d.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// Bytes reads a u32-length-prefixed byte slice.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

// String reads a u32-length-prefixed UTF-8 string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Uint32Slice reads a u32-count-prefixed list of u32 values.
func (d *Decoder) Uint32Slice() ([]uint32, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Done reports whether every byte of the message has been consumed.
func (d *Decoder) Done() bool { return d.pos == len(d.buf) }
