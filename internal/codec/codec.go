// Package codec implements the wire-level primitives shared by the
// persisted bucket format: variable-length integers, fixed-length
// little-endian integers, length-prefixed UTF-16 strings, and CRC32.
//
// All encoders write to a growable []byte; all decoders read from a
// position cursor into a []byte and return ErrCorrupt on truncation. There
// is no framing here (see package persist for that) - codec only knows how
// to turn values into bytes and back.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// ErrCorrupt is returned whenever a decode reads past the end of its input,
// or otherwise finds a value that cannot be valid.
var ErrCorrupt = errors.New("codec: corrupt data")

// CRC32Poly is the polynomial used by the persisted format (§4.1): the
// classic reversed CRC-32 polynomial, the same one zlib/gzip use.
const CRC32Poly uint32 = 0xEDB88320

// --- unsigned varint ---

// PutUvarint appends x to buf using 7 bits per byte, continuation bit set
// on every non-final byte, least-significant group first.
func PutUvarint(buf []byte, x uint64) []byte {
	for x >= 0x80 {
		buf = append(buf, byte(x)|0x80)
		x >>= 7
	}

	return append(buf, byte(x))
}

// Uvarint decodes an unsigned varint starting at buf[pos].
// Returns the decoded value and the position just past it.
func Uvarint(buf []byte, pos int) (uint64, int, error) {
	var (
		x     uint64
		shift uint
	)

	for {
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("%w: truncated uvarint", ErrCorrupt)
		}

		b := buf[pos]
		pos++

		if shift >= 64 {
			return 0, 0, fmt.Errorf("%w: uvarint overflow", ErrCorrupt)
		}

		x |= uint64(b&0x7f) << shift

		if b&0x80 == 0 {
			return x, pos, nil
		}

		shift += 7
	}
}

// --- signed varint (two's-complement raw bits, NOT zig-zag per §4.1) ---

// PutVarint appends the signed value x as its raw 64-bit two's-complement
// bit pattern, encoded with the same 7-bit grouping as PutUvarint.
func PutVarint(buf []byte, x int64) []byte {
	return PutUvarint(buf, uint64(x))
}

// Varint decodes a signed varint encoded by PutVarint.
func Varint(buf []byte, pos int) (int64, int, error) {
	u, next, err := Uvarint(buf, pos)
	if err != nil {
		return 0, 0, err
	}

	return int64(u), next, nil
}

// --- fixed-length little-endian ---

func PutFixedU32(buf []byte, x uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], x)

	return append(buf, tmp[:]...)
}

func FixedU32(buf []byte, pos int) (uint32, int, error) {
	if pos+4 > len(buf) {
		return 0, 0, fmt.Errorf("%w: truncated fixed32", ErrCorrupt)
	}

	return binary.LittleEndian.Uint32(buf[pos:]), pos + 4, nil
}

func PutFixedU64(buf []byte, x uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], x)

	return append(buf, tmp[:]...)
}

func FixedU64(buf []byte, pos int) (uint64, int, error) {
	if pos+8 > len(buf) {
		return 0, 0, fmt.Errorf("%w: truncated fixed64", ErrCorrupt)
	}

	return binary.LittleEndian.Uint64(buf[pos:]), pos + 8, nil
}

func PutFixedI64(buf []byte, x int64) []byte {
	return PutFixedU64(buf, uint64(x))
}

func FixedI64(buf []byte, pos int) (int64, int, error) {
	u, next, err := FixedU64(buf, pos)
	if err != nil {
		return 0, 0, err
	}

	return int64(u), next, nil
}

// --- strings: varint length, then that many UTF-16 code units, fixed-length each ---

// PutString appends a length-prefixed, UTF-16-encoded string: a varint
// code-unit count followed by that many fixed-length 16-bit code units.
func PutString(buf []byte, s string) []byte {
	units := utf16.Encode([]rune(s))

	buf = PutUvarint(buf, uint64(len(units)))
	for _, u := range units {
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], u)
		buf = append(buf, tmp[:]...)
	}

	return buf
}

// String decodes a string encoded by PutString.
func String(buf []byte, pos int) (string, int, error) {
	count, pos, err := Uvarint(buf, pos)
	if err != nil {
		return "", 0, err
	}

	units := make([]uint16, count)

	for i := range units {
		if pos+2 > len(buf) {
			return "", 0, fmt.Errorf("%w: truncated string code unit", ErrCorrupt)
		}

		units[i] = binary.LittleEndian.Uint16(buf[pos:])
		pos += 2
	}

	return string(utf16.Decode(units)), pos, nil
}
