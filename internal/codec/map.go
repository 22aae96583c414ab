package codec

import "sort"

// WriteMap encodes m as VarLong(count) followed by, for each entry in
// ascending key order, VarLong(key), VarLong(len(value)), value.
// ReadMap tolerates any entry order on decode, but encoding in a
// fixed order makes WriteMap's output a pure function of m's
// contents — callers that diff a serialized map against a previous
// snapshot (internal/railway's metadata-diff transmission) depend on
// that determinism; Go's own unordered map iteration would otherwise
// make two calls with identical contents produce different bytes.
func WriteMap(buf []byte, m map[uint64][]byte) []byte {
	buf = WriteVarLong(buf, uint64(len(m)))
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		v := m[k]
		buf = WriteVarLong(buf, k)
		buf = WriteVarLong(buf, uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// ReadMap decodes a map written by WriteMap starting at buf[off]. It
// parses exactly the declared entry count and stops, tolerating
// trailing bytes belonging to the caller's outer framing. It rejects
// on any length overrun.
func ReadMap(buf []byte, off int) (m map[uint64][]byte, n int, err error) {
	cursor := off
	count, adv, err := ReadVarLong(buf, cursor)
	if err != nil {
		return nil, 0, err
	}
	cursor += adv

	// Every entry takes at least two bytes (key and length VarLongs), so
	// the size hint is capped by the remaining input rather than taken
	// from the declared count, which may be arbitrarily large.
	hint := count
	if rem := uint64(len(buf)-cursor) / 2; hint > rem {
		hint = rem
	}
	m = make(map[uint64][]byte, hint)
	for i := uint64(0); i < count; i++ {
		key, adv, err := ReadVarLong(buf, cursor)
		if err != nil {
			return nil, 0, err
		}
		cursor += adv

		length, adv, err := ReadVarLong(buf, cursor)
		if err != nil {
			return nil, 0, err
		}
		cursor += adv

		end := cursor + int(length)
		if end < cursor || end > len(buf) {
			return nil, 0, ErrMalformed
		}
		val := make([]byte, length)
		copy(val, buf[cursor:end])
		m[key] = val
		cursor = end
	}
	return m, cursor - off, nil
}
