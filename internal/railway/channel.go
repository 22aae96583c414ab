package railway

// channel is a single multiplexed logical stream (C5): its own
// optional key, an independent sliding-window replay mask sized in
// whole bytes, a local/peer metadata snapshot pair, and activity
// timestamps used for GC. Grounded on
// _examples/original_source/include/Rho/Railway.hpp's RailwayStation,
// adapted to spec.md §4.5's own header-bit layout and to per-channel
// (rather than per-station) scope.
type channel struct {
	id uint64

	key      []byte
	isSecure bool

	lastSentNonce uint64
	windowBytes   []byte // byte-granular sliding replay mask, bit 0 of byte 0 = highest accepted nonce
	windowHead    uint64
	windowStarted bool

	meta           map[uint64][]byte
	lastSentMeta   []byte // serialized snapshot last actually transmitted
	theirMeta      map[uint64][]byte

	enabled bool

	lastActivityMS int64
}

func newChannel(id uint64, windowBits uint64) *channel {
	return &channel{
		id:          id,
		windowBytes: make([]byte, windowBits/8),
		meta:        make(map[uint64][]byte),
		theirMeta:   make(map[uint64][]byte),
		enabled:     true,
	}
}

// hasReceived reports whether nonce has already been accepted, or is
// old enough that it can never be told apart from a replay.
func (c *channel) hasReceived(nonce uint64) bool {
	if !c.windowStarted {
		return false
	}
	if nonce > c.windowHead {
		return false
	}
	diff := c.windowHead - nonce
	widthBits := uint64(len(c.windowBytes)) * 8
	if diff >= widthBits {
		return true
	}
	byteIdx := diff / 8
	bitIdx := diff % 8
	return c.windowBytes[byteIdx]&(1<<bitIdx) != 0
}

// accept marks nonce as received. When nonce advances the head, the
// window is shifted by whole bytes and then by the remaining bits, so
// the head's bit always sits at bit 0 of byte 0.
func (c *channel) accept(nonce uint64) {
	if !c.windowStarted {
		c.windowStarted = true
		c.windowHead = nonce
		c.windowBytes[0] = 1
		return
	}
	if nonce > c.windowHead {
		diff := nonce - c.windowHead
		byteShift := diff / 8
		bitShift := diff % 8
		widthBytes := uint64(len(c.windowBytes))
		if byteShift >= widthBytes {
			for i := range c.windowBytes {
				c.windowBytes[i] = 0
			}
		} else if byteShift > 0 {
			copy(c.windowBytes[byteShift:], c.windowBytes[:widthBytes-byteShift])
			for i := uint64(0); i < byteShift; i++ {
				c.windowBytes[i] = 0
			}
		}
		if bitShift > 0 {
			var carry byte
			for i := range c.windowBytes {
				b := c.windowBytes[i]
				c.windowBytes[i] = (b << bitShift) | carry
				carry = b >> (8 - bitShift)
			}
		}
		c.windowBytes[0] |= 1
		c.windowHead = nonce
		return
	}
	diff := c.windowHead - nonce
	widthBits := uint64(len(c.windowBytes)) * 8
	if diff < widthBits {
		c.windowBytes[diff/8] |= 1 << (diff % 8)
	}
}
