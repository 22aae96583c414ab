package codec

import (
	"encoding/binary"
	"math"
)

// WriteFixedU64LE appends v as 8 little-endian bytes.
func WriteFixedU64LE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// ReadFixedU64LE reads 8 little-endian bytes at off.
func ReadFixedU64LE(buf []byte, off int) (uint64, error) {
	if off+8 > len(buf) {
		return 0, ErrMalformed
	}
	return binary.LittleEndian.Uint64(buf[off : off+8]), nil
}

// WriteFixedF32LE appends v as 4 little-endian bytes.
func WriteFixedF32LE(buf []byte, v float32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	return append(buf, tmp[:]...)
}

// ReadFixedF32LE reads 4 little-endian bytes at off.
func ReadFixedF32LE(buf []byte, off int) (float32, error) {
	if off+4 > len(buf) {
		return 0, ErrMalformed
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4])), nil
}

// WriteFixedF64LE appends v as 8 little-endian bytes.
func WriteFixedF64LE(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

// ReadFixedF64LE reads 8 little-endian bytes at off.
func ReadFixedF64LE(buf []byte, off int) (float64, error) {
	if off+8 > len(buf) {
		return 0, ErrMalformed
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8])), nil
}
