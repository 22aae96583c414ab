package bundle

import (
	"puffer/internal/codec"
	"puffer/internal/xcrypto"
)

// Parse processes one raw received bundle per §4.3.3. It returns the
// application packets it decoded (already defragmented where a
// fragment chain completed); channel-0 control payloads are routed
// internally (heartbeat/legacy-ack consumed here, everything else
// queued for NextControl) rather than returned.
func (e *Engine) Parse(raw []byte) []Packet {
	cursor := 0
	var nonce uint64
	if e.isWindowed {
		n, read, err := codec.ReadVarLong(raw, cursor)
		if err != nil {
			e.dropMalformed()
			return nil
		}
		nonce = n
		cursor += read
		if e.recv.hasReceived(nonce) {
			e.dropReplay()
			return nil
		}
	} else {
		nonce = e.recv.lastReceivedNonce + 1
	}

	rest := raw[cursor:]
	if len(rest) < 1 {
		e.dropMalformed()
		return nil
	}

	wantSecureBit := byte(0)
	if e.isSecure {
		wantSecureBit = 1
	}
	if rest[0]&1 != wantSecureBit {
		e.dropMalformed()
		return nil
	}

	var content []byte
	if e.isSecure {
		if len(rest) <= tagLen {
			e.dropMalformed()
			return nil
		}
		ciphertext := append([]byte(nil), rest[:len(rest)-tagLen]...)
		tag := rest[len(rest)-tagLen:]
		ciphertext[0] &^= 1

		var ad []byte
		if e.isWindowed {
			ad = codec.WriteVarLong(nil, nonce)
		}
		open := func() ([]byte, bool, error) {
			return xcrypto.AEADOpen(xcrypto.AEADParams{
				Key:     e.key,
				Nonce:   nonce,
				AD:      ad,
				TagLen:  tagLen,
				Payload: ciphertext,
			}, tag)
		}
		plaintext, ok, err := open()
		if err == nil && !ok {
			// The sender overwrote ciphertext[0]'s LSB with 1 after
			// sealing, so the sealed value of that bit may have been
			// either 0 or 1; try the other one.
			ciphertext[0] |= 1
			plaintext, ok, err = open()
		}
		if err != nil || !ok {
			e.dropAEAD()
			return nil
		}
		content = plaintext
	} else {
		content = append([]byte(nil), rest...)
		content[0] &^= 1
	}

	if len(content) < 1 {
		e.dropMalformed()
		return nil
	}
	header := content[0]
	body := content[1:]

	glarePos := header&(1<<4) != 0
	if !e.glareSet {
		e.glareSet = true
		e.glarePos = !glarePos
	} else if glarePos == e.glarePos {
		e.dropGlare()
		return nil
	}

	if header&(1<<2) != 0 {
		padLen, n, err := codec.ReadVarLong(body, 0)
		if err != nil {
			e.dropMalformed()
			return nil
		}
		body = body[n:]
		if uint64(len(body)) < padLen {
			e.dropMalformed()
			return nil
		}
		body = body[:uint64(len(body))-padLen]
	}

	var packetBlobs [][]byte
	single := header&(1<<3) != 0
	if single {
		packetBlobs = [][]byte{body}
	} else {
		cursor := 0
		for cursor < len(body) {
			plen, n, err := codec.ReadVarLong(body, cursor)
			if err != nil {
				e.dropMalformed()
				return nil
			}
			cursor += n
			if uint64(cursor)+plen > uint64(len(body)) {
				e.dropMalformed()
				return nil
			}
			packetBlobs = append(packetBlobs, body[cursor:cursor+int(plen)])
			cursor += int(plen)
		}
	}

	var out []Packet
	for _, blob := range packetBlobs {
		p, ok := parsePacket(blob, e.isWindowed)
		if !ok {
			e.dropMalformed()
			continue
		}
		if complete, ok := e.reassembleIfFragment(p); ok {
			if complete != nil {
				out = append(out, *complete)
			}
			continue
		}
		out = append(out, p)
	}

	if e.isWindowed {
		e.recv.pretendReceived(nonce)
	} else {
		e.recv.lastReceivedNonce = nonce
		e.recv.started = true
	}
	if e.met != nil {
		e.met.IncBundlesReceived()
	}

	return e.dispatchControl(out)
}

// reassembleIfFragment routes fragment packets to reassembly buffers
// per §3's "fragments carrying the same fragment-start-id are
// concatenated in order; only the END status surfaces the reassembled
// payload". ok is true iff p was a fragment packet (consumed here,
// whether or not it completed a message).
func (e *Engine) reassembleIfFragment(p Packet) (*Packet, bool) {
	switch p.FragmentStatus {
	case FragSingle:
		return nil, false
	case FragStart:
		e.reassembly[p.FragmentStartID] = &reassemblyBuffer{channel: p.Channel, data: append([]byte(nil), p.Payload...)}
		return nil, true
	case FragMiddle:
		buf := e.reassembly[p.FragmentStartID]
		if buf == nil {
			return nil, true
		}
		buf.data = append(buf.data, p.Payload...)
		return nil, true
	case FragEnd:
		buf := e.reassembly[p.FragmentStartID]
		if buf == nil {
			return nil, true
		}
		buf.data = append(buf.data, p.Payload...)
		delete(e.reassembly, p.FragmentStartID)
		complete := Packet{
			Payload:        buf.data,
			Channel:        buf.channel,
			Important:      p.Important,
			ID:             p.FragmentStartID,
			FragmentStatus: FragSingle,
		}
		return &complete, true
	default:
		return nil, true
	}
}

// dispatchControl splits channel-0 packets out of decoded: heartbeat
// and legacy-ack are handled internally, everything else (probe,
// announce, switch-request/response, disconnect) is queued for the
// session layer to read via NextControl. Non-control packets pass
// through unchanged.
func (e *Engine) dispatchControl(decoded []Packet) []Packet {
	out := decoded[:0]
	for _, p := range decoded {
		if p.Channel != 0 {
			out = append(out, p)
			continue
		}
		if len(p.Payload) == 0 {
			continue
		}
		cmd, _, err := codec.ReadVarLong(p.Payload, 0)
		if err != nil {
			continue
		}
		switch cmd {
		case CmdHeartbeat:
			e.processHeartbeat(p.Payload)
		case CmdLegacyAck:
			e.processLegacyAck(p.Payload)
		default:
			e.controlInbox = append(e.controlInbox, p.Payload)
		}
	}
	return out
}

func (e *Engine) dropReplay() {
	if e.met != nil {
		e.met.IncDropReplay()
	}
}

func (e *Engine) dropMalformed() {
	if e.met != nil {
		e.met.IncDropMalformed()
	}
}

func (e *Engine) dropAEAD() {
	if e.met != nil {
		e.met.IncDropAEAD()
	}
}

func (e *Engine) dropGlare() {
	if e.met != nil {
		e.met.IncDropGlare()
	}
}
