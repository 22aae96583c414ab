// Package railway implements the channel multiplexer (C5): a
// broadcast-style bus of logical channels sharing one datagram
// substrate, each with its own key, replay window and metadata
// snapshot. Grounded on
// _examples/original_source/include/Rho/Railway.hpp, re-expressed
// with spec.md §4.5's own wire header (bit0 secure, bit1 broadcast,
// bit2 has-meta) rather than Railway.hpp's own bit assignment, per
// the multi-revision ambiguity spec.md calls out.
package railway

import (
	"io"

	"puffer/internal/clock"
	"puffer/internal/codec"
	"puffer/internal/metrics"
	"puffer/internal/xcrypto"
)

const tagLen = 8

// Multiplexer owns every channel on one substrate endpoint: it packs
// and unpacks the channel wire format, allocates collision-avoided
// channel ids from a pre-generated pool, and ages out idle channels.
type Multiplexer struct {
	cfg Config
	clk clock.Clock
	rnd io.Reader
	met *metrics.Metrics

	channels map[uint64]*channel
	pool     map[uint64]struct{}

	// OnDeliver fires once per successfully decoded payload.
	OnDeliver func(channelID uint64, payload []byte)
	// OnClear fires once per channel removed by GC.
	OnClear func(channelID uint64)
}

// NewMultiplexer constructs a multiplexer with a freshly generated
// collision-avoidance pool of cfg.PoolSize candidate channel ids.
func NewMultiplexer(cfg Config, clk clock.Clock, rnd io.Reader, met *metrics.Metrics) *Multiplexer {
	cfg = cfg.withDefaults()
	m := &Multiplexer{
		cfg:      cfg,
		clk:      clk,
		rnd:      rnd,
		met:      met,
		channels: make(map[uint64]*channel),
		pool:     make(map[uint64]struct{}, cfg.PoolSize),
	}
	for len(m.pool) < cfg.PoolSize {
		m.pool[m.randomChannelID()] = struct{}{}
	}
	return m
}

func (m *Multiplexer) randomChannelID() uint64 {
	var buf [3]byte
	if _, err := io.ReadFull(m.rnd, buf[:]); err != nil {
		return 0
	}
	id := uint64(buf[0])<<16 | uint64(buf[1])<<8 | uint64(buf[2])
	if id == 0 {
		id = 1
	}
	return id
}

// Allocate draws one id from the collision-avoidance pool and
// registers a new channel under it, replenishing the pool.
func (m *Multiplexer) Allocate() uint64 {
	var id uint64
	for candidate := range m.pool {
		id = candidate
		break
	}
	if id == 0 {
		id = m.randomChannelID()
	}
	delete(m.pool, id)
	m.pool[m.randomChannelID()] = struct{}{}
	return m.Open(id)
}

// Open registers a channel under an explicit id (used by the receive
// side, which learns ids from incoming traffic rather than allocating
// them).
func (m *Multiplexer) Open(id uint64) uint64 {
	if _, ok := m.channels[id]; !ok {
		m.channels[id] = newChannel(id, m.cfg.WindowBits)
		m.channels[id].lastActivityMS = m.clk.NowMillis()
		if m.met != nil {
			m.met.IncChannelsOpened()
		}
	}
	return id
}

func (m *Multiplexer) EnableSecurity(id uint64, key []byte) {
	c := m.channels[id]
	if c == nil {
		return
	}
	c.key = append([]byte(nil), key...)
	c.isSecure = true
}

// SetMeta updates a channel's local metadata map; the change is
// carried on the next Send as a diff against the last transmitted
// snapshot.
func (m *Multiplexer) SetMeta(id uint64, key uint64, value []byte) {
	c := m.channels[id]
	if c == nil {
		return
	}
	c.meta[key] = value
}

// TheirMeta returns the peer-observed metadata snapshot last decoded
// for id.
func (m *Multiplexer) TheirMeta(id uint64) map[uint64][]byte {
	c := m.channels[id]
	if c == nil {
		return nil
	}
	return c.theirMeta
}

// Send builds the wire form of one channel packet per §4.5's send
// path: AD = headerByte ∥ channelId(3 BE); metadata is included only
// when it differs from the last transmitted snapshot.
func (m *Multiplexer) Send(id uint64, payload []byte, broadcast bool) []byte {
	c := m.channels[id]
	if c == nil || !c.enabled {
		return nil
	}
	c.lastActivityMS = m.clk.NowMillis()

	header := byte(0)
	if c.isSecure {
		header |= 1 << 0
	}
	if broadcast {
		header |= 1 << 1
	}

	metaBlob := codec.WriteMap(nil, c.meta)
	includeMeta := !xcrypto.ConstantTimeEquals(metaBlob, c.lastSentMeta, -1)
	if includeMeta {
		header |= 1 << 2
	}

	ad := make([]byte, 0, 4)
	ad = append(ad, header)
	ad = appendChannelID(ad, id)

	content := make([]byte, 0, len(metaBlob)+len(payload)+4)
	if includeMeta {
		content = codec.WriteVarLong(content, uint64(len(metaBlob)))
		content = append(content, metaBlob...)
	}
	content = append(content, payload...)

	c.lastSentNonce++
	nonce := c.lastSentNonce

	out := append([]byte(nil), ad...)
	out = codec.WriteVarLong(out, nonce)

	if !c.isSecure {
		out = append(out, content...)
		if includeMeta {
			c.lastSentMeta = metaBlob
		}
		return out
	}

	ciphertext, tag, err := xcrypto.AEADSeal(xcrypto.AEADParams{
		Key:     c.key,
		Nonce:   nonce,
		AD:      ad,
		TagLen:  tagLen,
		Payload: content,
	})
	if err != nil {
		return nil
	}
	out = append(out, tag...)
	out = append(out, ciphertext...)
	if includeMeta {
		c.lastSentMeta = metaBlob
	}
	return out
}

func appendChannelID(buf []byte, id uint64) []byte {
	return append(buf, byte(id>>16), byte(id>>8), byte(id))
}

func readChannelID(buf []byte) (uint64, bool) {
	if len(buf) < 3 {
		return 0, false
	}
	return uint64(buf[0])<<16 | uint64(buf[1])<<8 | uint64(buf[2]), true
}

// Receive decodes one raw channel packet per §4.5's receive path. It
// resolves collision-avoidance pool membership, enforces the sliding
// replay bitmap, opens AEAD when the channel is secure, and delivers
// the payload via OnDeliver.
func (m *Multiplexer) Receive(raw []byte) {
	if len(raw) < 4 {
		return
	}
	header := raw[0]
	id, ok := readChannelID(raw[1:4])
	if !ok {
		return
	}

	if _, collides := m.pool[id]; collides {
		delete(m.pool, id)
		m.pool[m.randomChannelID()] = struct{}{}
	}

	c := m.channels[id]
	if c == nil {
		c = newChannel(id, m.cfg.WindowBits)
		m.channels[id] = c
		if m.met != nil {
			m.met.IncChannelsOpened()
		}
	}

	ad := raw[:4]
	cursor := 4
	nonce, n, err := codec.ReadVarLong(raw, cursor)
	if err != nil {
		return
	}
	cursor += n

	if c.hasReceived(nonce) {
		return
	}

	secure := header&(1<<0) != 0
	if secure != c.isSecure {
		return
	}
	hasMeta := header&(1<<2) != 0

	var content []byte
	if secure {
		if len(raw)-cursor < tagLen {
			return
		}
		tag := raw[cursor : cursor+tagLen]
		ciphertext := raw[cursor+tagLen:]
		plaintext, ok, err := xcrypto.AEADOpen(xcrypto.AEADParams{
			Key:     c.key,
			Nonce:   nonce,
			AD:      ad,
			TagLen:  tagLen,
			Payload: ciphertext,
		}, tag)
		if err != nil || !ok {
			return
		}
		content = plaintext
	} else {
		content = raw[cursor:]
	}

	if hasMeta {
		metaLen, n, err := codec.ReadVarLong(content, 0)
		if err != nil || uint64(len(content)-n) < metaLen {
			return
		}
		metaBlob := content[n : n+int(metaLen)]
		meta, _, err := codec.ReadMap(metaBlob, 0)
		if err != nil {
			return
		}
		c.theirMeta = meta
		content = content[n+int(metaLen):]
	}

	c.accept(nonce)
	c.lastActivityMS = m.clk.NowMillis()

	if m.OnDeliver != nil {
		m.OnDeliver(id, content)
	}
}

// GC removes every channel whose last activity is older than
// cfg.DestroyTimeoutMS, invoking OnClear for each.
func (m *Multiplexer) GC() {
	now := m.clk.NowMillis()
	for id, c := range m.channels {
		if now-c.lastActivityMS < m.cfg.DestroyTimeoutMS {
			continue
		}
		delete(m.channels, id)
		if m.met != nil {
			m.met.IncChannelsClosed()
		}
		if m.OnClear != nil {
			m.OnClear(id)
		}
	}
}
