// Package bundle implements the bundle engine (C3): outbound
// packetization and AEAD framing, inflight bookkeeping and resend
// ordering, selective-ACK generation, the receive-side replay window,
// fragment reassembly, glare resolution, and heartbeat emission.
//
// Grounded on _examples/original_source/include/Rho/Puffer.hpp (base
// packing/parsing algorithm) and Tunnel.hpp (heartbeats, glare,
// deferred state transitions, priority-resend queue — the more
// complete revision spec.md's own guidance designates as authoritative
// where the two diverge), adapted into the teacher's package style.
package bundle

import "puffer/internal/codec"

// FragmentStatus classifies a Packet's role in a fragmented message.
type FragmentStatus uint8

const (
	FragSingle FragmentStatus = 0
	FragStart  FragmentStatus = 1
	FragMiddle FragmentStatus = 2
	FragEnd    FragmentStatus = 3
)

// Packet is the application-visible unit pushed to and delivered from
// the engine.
type Packet struct {
	Payload         []byte
	Channel         uint64
	BypassHOL       bool
	Important       bool
	ID              uint64
	FragmentStartID uint64
	FragmentStatus  FragmentStatus
}

// NewPacket returns a Packet with the engine's usual defaults: channel
// 1, important (reliability requested), not a fragment.
func NewPacket(payload []byte) Packet {
	return Packet{Payload: payload, Channel: 1, Important: true, FragmentStatus: FragSingle}
}

// serializedLen returns the wire length of p per §4.3.1's serialized
// packet layout, without actually allocating it — used for capacity
// planning while packing a bundle.
func (p Packet) serializedLen(windowed bool) int {
	n := 1 // header byte
	if windowed {
		n += codec.VarLongLen(p.ID)
	}
	if p.Channel != 1 {
		n += codec.VarLongLen(p.Channel)
	}
	if p.FragmentStatus != FragSingle {
		n += codec.VarLongLen(p.FragmentStartID)
	}
	n += len(p.Payload)
	return n
}

// serializePacket appends p's wire form to buf: headerByte(1) ∥
// [VarLong(id) when windowed] ∥ [VarLong(channel) when channel≠1] ∥
// [VarLong(fragmentStartID) when fragStatus≠single] ∥ payload.
func serializePacket(buf []byte, p Packet, windowed bool) []byte {
	header := byte(p.FragmentStatus & 0x3)
	if p.Channel != 1 {
		header |= 1 << 2
	}
	if p.BypassHOL {
		header |= 1 << 3
	}
	buf = append(buf, header)
	if windowed {
		buf = codec.WriteVarLong(buf, p.ID)
	}
	if p.Channel != 1 {
		buf = codec.WriteVarLong(buf, p.Channel)
	}
	if p.FragmentStatus != FragSingle {
		buf = codec.WriteVarLong(buf, p.FragmentStartID)
	}
	buf = append(buf, p.Payload...)
	return buf
}

// parsePacket is the inverse of serializePacket.
func parsePacket(buf []byte, windowed bool) (Packet, bool) {
	if len(buf) < 1 {
		return Packet{}, false
	}
	header := buf[0]
	cursor := 1

	p := Packet{
		FragmentStatus: FragmentStatus(header & 0x3),
		BypassHOL:      header&(1<<3) != 0,
		Channel:        1,
	}
	hasChannel := header&(1<<2) != 0

	if windowed {
		id, n, err := codec.ReadVarLong(buf, cursor)
		if err != nil {
			return Packet{}, false
		}
		p.ID = id
		cursor += n
	}
	if hasChannel {
		ch, n, err := codec.ReadVarLong(buf, cursor)
		if err != nil {
			return Packet{}, false
		}
		p.Channel = ch
		cursor += n
	}
	if p.FragmentStatus != FragSingle {
		fsid, n, err := codec.ReadVarLong(buf, cursor)
		if err != nil {
			return Packet{}, false
		}
		p.FragmentStartID = fsid
		cursor += n
	}
	p.Payload = append([]byte(nil), buf[cursor:]...)
	return p, true
}
