package codec

// Framer reassembles VarLong-length-prefixed messages out of a byte
// stream. It is not part of the bundle engine's core: the engine talks
// directly in whole datagrams. Framer exists for callers that carry
// puffer traffic (or its control-plane companions) over a byte stream
// such as a TCP or QUIC stream instead of a datagram substrate.
type Framer struct {
	maxSize        int
	buf            []byte
	expectedLength int
	haveLength     bool
	packets        [][]byte
}

// NewFramer returns a Framer that refuses to buffer a declared length
// larger than maxSize, resetting its state to recover.
func NewFramer(maxSize int) *Framer {
	return &Framer{maxSize: maxSize}
}

// Push appends newly-received bytes and extracts any complete messages.
func (f *Framer) Push(data []byte) {
	f.buf = append(f.buf, data...)
	for len(f.buf) > 0 {
		if !f.haveLength {
			length, n, err := ReadVarLong(f.buf, 0)
			if err != nil {
				return // not enough bytes for the length prefix yet
			}
			if int(length) > f.maxSize {
				f.buf = nil
				f.expectedLength = 0
				f.haveLength = false
				return
			}
			f.expectedLength = int(length)
			f.haveLength = true
			f.buf = f.buf[n:]
		}
		if len(f.buf) < f.expectedLength {
			return // wait for more data
		}
		pkt := make([]byte, f.expectedLength)
		copy(pkt, f.buf[:f.expectedLength])
		f.buf = f.buf[f.expectedLength:]
		f.packets = append(f.packets, pkt)
		f.haveLength = false
		f.expectedLength = 0
	}
}

// Available reports whether a complete message is ready to Read.
func (f *Framer) Available() bool {
	return len(f.packets) > 0
}

// Read pops the oldest complete message, or nil if none is available.
func (f *Framer) Read() []byte {
	if len(f.packets) == 0 {
		return nil
	}
	pkt := f.packets[0]
	f.packets = f.packets[1:]
	return pkt
}

// Build prefixes data with its VarLong length, ready to write to a stream.
func Build(data []byte) []byte {
	out := WriteVarLong(make([]byte, 0, VarLongLen(uint64(len(data)))+len(data)), uint64(len(data)))
	return append(out, data...)
}
