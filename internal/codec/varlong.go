// Package codec implements the wire-level primitives shared by every
// higher layer: base-128 varints, fixed-width little-endian integers,
// and the u64->bytes map encoding used for metadata exchange.
package codec

import "errors"

// ErrMalformed is returned by every Read* function when the buffer ends
// mid-sequence or a length field would overrun the input.
var ErrMalformed = errors.New("codec: malformed input")

// maxVarLongBits bounds accumulated shift so a corrupt stream of
// continuation bytes can't spin forever; 70 matches the original
// reference implementation's tolerance for a 64-bit value plus slack.
const maxVarLongBits = 70

// WriteVarLong appends the base-128 LEB128 encoding of v to buf and
// returns the extended slice. Zero encodes as a single 0x00 byte.
func WriteVarLong(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

// VarLongLen returns the number of bytes WriteVarLong would emit for v.
func VarLongLen(v uint64) int {
	n := 1
	for v >= 128 {
		v >>= 7
		n++
	}
	return n
}

// ReadVarLong decodes a VarLong starting at buf[off]. It returns the
// value, the number of bytes consumed, and an error if the buffer ends
// mid-sequence or the value would need more than maxVarLongBits.
func ReadVarLong(buf []byte, off int) (value uint64, n int, err error) {
	var shift uint
	cursor := off
	for {
		if cursor >= len(buf) {
			return 0, 0, ErrMalformed
		}
		b := buf[cursor]
		cursor++
		value |= uint64(b&0x7f) << shift
		shift += 7
		if shift > maxVarLongBits {
			return 0, 0, ErrMalformed
		}
		if b&0x80 == 0 {
			return value, cursor - off, nil
		}
	}
}
