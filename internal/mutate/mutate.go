// Package mutate implements the heatmap-indexed byte mutators:
// the ten operators the RL mutation stage applies at predictor-chosen
// offsets -- a byte-XOR assign, delete/insert resizers, additive
// mutators at four integer widths, and AFL-style interesting-value
// overwrites -- expressed as plain functions over a minimal Rand seam.
//
// All operators are bounds-checked: an out-of-range offset or an input
// too short for the operator's width returns Skipped with the input
// left untouched, never a panic or silent corruption.
package mutate

import (
	"encoding/binary"
	"math/bits"
)

// Result reports whether an operator actually changed the input.
type Result int

const (
	Skipped Result = iota
	Mutated
)

func (r Result) String() string {
	if r == Mutated {
		return "mutated"
	}
	return "skipped"
}

// Rand is the minimal randomness seam the mutators need: a bounded
// draw in [0, n). A single Rand is shared by the whole mutation stage
// so a seeded source makes an entire round reproducible.
type Rand interface {
	Below(n uint64) uint64
}

// ArithMax bounds the magnitude of the additive mutators.
const ArithMax = 35

// Interesting value tables, AFL-derived, reproduced exactly (GLOSSARY).
var (
	Interesting8  = [...]int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	Interesting16 = [...]int16{
		-128, -1, 0, 1, 16, 32, 64, 100, 127,
		-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767,
	}
	Interesting32 = [...]int32{
		-128, -1, 0, 1, 16, 32, 64, 100, 127,
		-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767,
		-2_147_483_648, -100_663_046, -32769, 32768, 65535, 65536, 100_663_045, 2_147_483_647,
	}
)

// Mutator is the signature shared by all ten operators: given a rand
// source, the current bytes, the predictor-chosen offset, and the
// input's max-size growth cap (0 = unbounded), it returns the
// (possibly resized) bytes and whether a mutation was applied. Callers
// own in and may pass it back mutated in place, except for the two
// length-changing operators (BytesDelete, BytesInsert) which return a
// new slice.
type Mutator func(r Rand, in []byte, offset int, maxSize int) ([]byte, Result)

// Named pairs a Mutator with the name used for metrics and logging.
type Named struct {
	Name string
	Fn   Mutator
}

// All is the fixed roster of heatmap-indexed operators. The order is
// part of the stage's random-draw contract: a seeded Rand always picks
// the same operator for the same draw.
var All = []Named{
	{"AssignByte", AssignByte},
	{"BytesDelete", BytesDelete},
	{"BytesInsert", BytesInsert},
	{"ByteAdd", ByteAdd},
	{"WordAdd", WordAdd},
	{"DwordAdd", DwordAdd},
	{"QwordAdd", QwordAdd},
	{"ByteInteresting", ByteInteresting},
	{"WordInteresting", WordInteresting},
	{"DwordInteresting", DwordInteresting},
}

// AssignByte XORs the byte at offset with a value in [1,254], never
// leaving it unchanged (the XOR operand is never 0).
func AssignByte(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	if offset < 0 || offset >= len(in) {
		return in, Skipped
	}
	in[offset] ^= byte(1 + r.Below(254))
	return in, Mutated
}

// BytesDelete removes a random run of bytes starting at offset. Skips
// on inputs too small to shrink meaningfully or an out-of-range offset.
func BytesDelete(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	size := len(in)
	if size <= 2 || offset < 0 || offset >= size {
		return in, Skipped
	}
	n := int(r.Below(uint64(size - offset)))
	out := append(in[:offset:offset], in[offset+n:]...)
	return out, Mutated
}

// BytesInsert duplicates a randomly chosen existing byte 1-16 times at
// offset, capped so the result never exceeds maxSize.
func BytesInsert(r Rand, in []byte, offset int, maxSize int) ([]byte, Result) {
	size := len(in)
	if size == 0 || offset < 0 || offset >= size {
		return in, Skipped
	}
	n := 1 + int(r.Below(16))
	if maxSize > 0 && size+n > maxSize {
		if maxSize <= size {
			return in, Skipped
		}
		n = maxSize - size
	}
	val := in[r.Below(uint64(size))]
	out := make([]byte, size+n)
	copy(out, in[:offset])
	for i := 0; i < n; i++ {
		out[offset+i] = val
	}
	copy(out[offset+n:], in[offset:])
	return out, Mutated
}

// arithVariant draws which of the four add/subtract/byteswap forms to
// apply.
func arithVariant(r Rand) uint64 { return r.Below(4) }

// ByteAdd adds or subtracts a magnitude in [1,ArithMax] to the byte at
// offset. Byte-swap variants are a no-op for a single byte but are
// still drawn to keep the random-draw sequence identical across widths.
func ByteAdd(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	if offset < 0 || offset+1 > len(in) {
		return in, Skipped
	}
	num := byte(1 + r.Below(ArithMax))
	val := in[offset]
	var nv byte
	switch arithVariant(r) {
	case 0, 2:
		nv = val + num
	default:
		nv = val - num
	}
	in[offset] = nv
	return in, Mutated
}

// WordAdd is ByteAdd's 16-bit counterpart, little-endian at rest, with
// the swapped variants operating on the big-endian reading of the
// value (a byte-swap around the add).
func WordAdd(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	const width = 2
	if offset < 0 || offset+width > len(in) {
		return in, Skipped
	}
	buf := in[offset : offset+width]
	num := uint16(1 + r.Below(ArithMax))
	val := binary.LittleEndian.Uint16(buf)
	var nv uint16
	switch arithVariant(r) {
	case 0:
		nv = val + num
	case 1:
		nv = val - num
	case 2:
		nv = bits.ReverseBytes16(bits.ReverseBytes16(val) + num)
	default:
		nv = bits.ReverseBytes16(bits.ReverseBytes16(val) - num)
	}
	binary.LittleEndian.PutUint16(buf, nv)
	return in, Mutated
}

// DwordAdd is ByteAdd's 32-bit counterpart.
func DwordAdd(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	const width = 4
	if offset < 0 || offset+width > len(in) {
		return in, Skipped
	}
	buf := in[offset : offset+width]
	num := uint32(1 + r.Below(ArithMax))
	val := binary.LittleEndian.Uint32(buf)
	var nv uint32
	switch arithVariant(r) {
	case 0:
		nv = val + num
	case 1:
		nv = val - num
	case 2:
		nv = bits.ReverseBytes32(bits.ReverseBytes32(val) + num)
	default:
		nv = bits.ReverseBytes32(bits.ReverseBytes32(val) - num)
	}
	binary.LittleEndian.PutUint32(buf, nv)
	return in, Mutated
}

// QwordAdd is ByteAdd's 64-bit counterpart.
func QwordAdd(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	const width = 8
	if offset < 0 || offset+width > len(in) {
		return in, Skipped
	}
	buf := in[offset : offset+width]
	num := 1 + r.Below(ArithMax)
	val := binary.LittleEndian.Uint64(buf)
	var nv uint64
	switch arithVariant(r) {
	case 0:
		nv = val + num
	case 1:
		nv = val - num
	case 2:
		nv = bits.ReverseBytes64(bits.ReverseBytes64(val) + num)
	default:
		nv = bits.ReverseBytes64(bits.ReverseBytes64(val) - num)
	}
	binary.LittleEndian.PutUint64(buf, nv)
	return in, Mutated
}

// endianPick draws between big-endian (0) and little-endian (1)
// encoding of the chosen interesting value.
func endianPick(r Rand) uint64 { return r.Below(2) }

// ByteInteresting overwrites the byte at offset with a random value
// from Interesting8.
func ByteInteresting(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	if offset < 0 || offset+1 > len(in) {
		return in, Skipped
	}
	v := Interesting8[r.Below(uint64(len(Interesting8)))]
	_ = endianPick(r) // no-op for a single byte; drawn to match the sequence
	in[offset] = byte(v)
	return in, Mutated
}

// WordInteresting overwrites the 16-bit value at offset with a random
// entry from Interesting16, encoded big- or little-endian.
func WordInteresting(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	const width = 2
	if offset < 0 || offset+width > len(in) {
		return in, Skipped
	}
	v := uint16(Interesting16[r.Below(uint64(len(Interesting16)))])
	buf := in[offset : offset+width]
	if endianPick(r) == 0 {
		binary.BigEndian.PutUint16(buf, v)
	} else {
		binary.LittleEndian.PutUint16(buf, v)
	}
	return in, Mutated
}

// DwordInteresting overwrites the 32-bit value at offset with a random
// entry from Interesting32, encoded big- or little-endian.
func DwordInteresting(r Rand, in []byte, offset int, _ int) ([]byte, Result) {
	const width = 4
	if offset < 0 || offset+width > len(in) {
		return in, Skipped
	}
	v := uint32(Interesting32[r.Below(uint64(len(Interesting32)))])
	buf := in[offset : offset+width]
	if endianPick(r) == 0 {
		binary.BigEndian.PutUint32(buf, v)
	} else {
		binary.LittleEndian.PutUint32(buf, v)
	}
	return in, Mutated
}
