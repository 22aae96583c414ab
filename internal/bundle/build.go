package bundle

import (
	"puffer/internal/codec"
	"puffer/internal/xcrypto"
)

const tagLen = 8

// fragmentHeaderMargin is the per-packet overhead budgeted when
// slicing an oversized packet's payload into fragments (§4.3.1) for
// the header byte, id VarLong and fragmentStartID VarLong. It is a
// fixed allowance, smaller than the 21-byte worst case of those three
// fields.
const fragmentHeaderMargin = 15

// multiPacketMargin is the slack reserved per candidate packet in a
// multi-packet bundle so its length prefix always fits (§4.3.1
// "Packing strategy").
const multiPacketMargin = 5

// Flush returns at most one sealed bundle to emit, or nil if there is
// nothing to send this tick. A due heartbeat is first queued onto the
// outbox; the bundle is then chosen from priority-resend, then the
// outbox, then the important stride cursor. Deferred state transitions
// are applied at the flush boundary after this tick's bundle has been
// chosen and sealed.
func (e *Engine) Flush() []byte {
	now := e.clk.NowMillis()
	if e.dueForHeartbeat(now) {
		e.lastHeartbeatAt = now
		e.PushControl(e.buildHeartbeatPayload(), false)
	}

	bundle := e.nextBundleToSend()

	// Transitions apply only after this tick's bundle (if any) has
	// already been packed under the pre-upgrade key/window settings —
	// this is what lets acceptSwitch's own type-21 response go out
	// under the old framing while everything from the next Flush
	// onward uses the new one.
	e.applyDeferredTransitions()

	if bundle != nil {
		e.lastFlushAt = now
		return bundle
	}

	if e.destroyAfterFlush && e.drained() {
		e.destroyAfterFlush = false
		e.destroyed = true
		if e.DestroyListener != nil {
			e.DestroyListener()
		}
	}
	return nil
}

func (e *Engine) dueForHeartbeat(now int64) bool {
	// Nothing sent yet under the current nonce space: open with a
	// heartbeat. A zero lastHeartbeatAt cannot mark "never sent", since
	// the clock itself may read 0.
	if e.lastSentNonce == 0 {
		return true
	}
	sinceFlush := now - e.lastFlushAt
	sinceHeartbeat := now - e.lastHeartbeatAt
	return sinceFlush >= e.cfg.AliveTimeoutMS || sinceHeartbeat >= e.cfg.heartbeatIntervalMS()
}

// nextBundleToSend applies §4.3.2's priority order and returns the
// sealed wire bytes of exactly one bundle, or nil.
func (e *Engine) nextBundleToSend() []byte {
	if len(e.priorityResend) > 0 {
		entry := e.priorityResend[0]
		e.priorityResend = e.priorityResend[1:]
		return e.reseal(entry)
	}
	if len(e.outbox) > 0 {
		return e.packAndSeal()
	}
	if e.resendPosition < len(e.importantInflight) {
		entry := e.importantInflight[e.resendPosition]
		e.resendPosition++
		return entry.sealed
	}
	return nil
}

// reseal re-derives wire bytes for a priority-resend clone under a
// fresh nonce: the original nonce it was sealed under may already be
// past the peer's window (that's exactly why it was reported
// unavailable), so resending the stale sealed bytes verbatim would
// just be dropped again as too-old. The clone retains the pre-seal
// content, so sealing it again under lastSentNonce+1 produces a
// bundle the peer's window will accept as new.
func (e *Engine) reseal(entry inflightEntry) []byte {
	if entry.content == nil {
		return entry.sealed
	}
	content := append([]byte(nil), entry.content...)
	nonce := e.nextNonce()
	sealed := e.seal(content, nonce)
	e.importantInflight = append(e.importantInflight, inflightEntry{
		id: nonce, sealed: sealed, content: entry.content, important: true,
	})
	if e.met != nil {
		e.met.IncRetransmits()
	}
	return sealed
}

func (e *Engine) packAndSeal() []byte {
	e.applyFragmentationIfNeeded()
	if len(e.outbox) == 0 {
		return nil
	}

	available := e.cfg.available()
	var content []byte
	important := false

	if len(e.outbox) == 1 && e.outbox[0].serializedLen(e.isWindowed) <= available {
		p := e.outbox[0]
		e.outbox = e.outbox[1:]
		important = p.Important
		content = make([]byte, 0, p.serializedLen(e.isWindowed)+1)
		content = append(content, 0) // header placeholder
		content = serializePacket(content, p, e.isWindowed)
		content[0] = byte(1 << 3) // bit3 = single
	} else {
		var packed []byte
		for len(e.outbox) > 0 {
			p := e.outbox[0]
			plen := p.serializedLen(e.isWindowed)
			need := plen + codec.VarLongLen(uint64(plen)) + multiPacketMargin
			if len(packed) > 0 && need > available-len(packed) {
				break
			}
			e.outbox = e.outbox[1:]
			packed = codec.WriteVarLong(packed, uint64(plen))
			packed = serializePacket(packed, p, e.isWindowed)
			if p.Important {
				important = true
			}
		}
		content = make([]byte, 0, len(packed)+1)
		content = append(content, 0)
		content = append(content, packed...)
	}

	content = e.applyPadding(content)
	content = e.setBundleHeader(content)

	preSeal := append([]byte(nil), content...)
	nonce := e.nextNonce()
	sealed := e.seal(content, nonce)

	// Without windowing there is no nonce space the peer can SACK
	// against, so inflight tracking (and the resends it drives) would
	// never converge; every bundle is fire-and-forget. Non-important
	// bundles are fire-and-forget even when windowed (§4.3.2): the
	// bytes returned here are the only time they're ever sent, so they
	// are never added to an inflight list for a later resend.
	if e.isWindowed && important {
		e.importantInflight = append(e.importantInflight, inflightEntry{
			id: nonce, sealed: sealed, content: preSeal, important: important,
		})
	}
	if e.met != nil {
		e.met.IncBundlesSent()
	}
	return sealed
}

// applyFragmentationIfNeeded implements §4.3.1's fragmentation
// decision: if the head-of-outbox packet's serialized form exceeds
// available capacity, split it into chunks and unshift the fragments
// back onto the outbox in order.
func (e *Engine) applyFragmentationIfNeeded() {
	if len(e.outbox) == 0 {
		return
	}
	available := e.cfg.available()
	head := e.outbox[0]
	if head.serializedLen(e.isWindowed) <= available {
		return
	}
	e.outbox = e.outbox[1:]

	fragSize := available - fragmentHeaderMargin
	if fragSize < 1 {
		fragSize = 1
	}
	payload := head.Payload
	var chunks [][]byte
	for len(payload) > 0 {
		n := fragSize
		if n > len(payload) {
			n = len(payload)
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}

	fragments := make([]Packet, len(chunks))
	for i, chunk := range chunks {
		status := FragMiddle
		switch {
		case len(chunks) == 1:
			status = FragSingle
		case i == 0:
			status = FragStart
		case i == len(chunks)-1:
			status = FragEnd
		}
		fragments[i] = Packet{
			Payload:         chunk,
			Channel:         head.Channel,
			Important:       head.Important,
			BypassHOL:       head.BypassHOL,
			ID:              head.ID,
			FragmentStartID: head.ID,
			FragmentStatus:  status,
		}
	}
	e.outbox = append(fragments, e.outbox...)
}

// applyPadding implements §4.3.1's padding trick: if content's length
// is not a multiple of blockSize, rebuild it as
// [headerByte][VarLong(pad)][body-minus-first-byte][zeros(pad)].
func (e *Engine) applyPadding(content []byte) []byte {
	rem := len(content) % e.cfg.BlockSize
	if rem == 0 {
		return content
	}
	pad := e.cfg.BlockSize - rem
	header := content[0] | (1 << 2)
	body := content[1:]
	out := make([]byte, 0, 1+codec.VarLongLen(uint64(pad))+len(body)+pad)
	out = append(out, header)
	out = codec.WriteVarLong(out, uint64(pad))
	out = append(out, body...)
	out = append(out, make([]byte, pad)...)
	return out
}

// setBundleHeader finalizes bit 0 (secure) and bit 4 (glare position)
// on the bundle header byte; bit 2 (padded) was already set by
// applyPadding and bit 3 (single) by packAndSeal's single-packet path.
func (e *Engine) setBundleHeader(content []byte) []byte {
	h := content[0]
	if e.isSecure {
		h |= 1 << 0
	}
	if e.glareSet && e.glarePos {
		h |= 1 << 4
	}
	content[0] = h
	return content
}

func (e *Engine) nextNonce() uint64 {
	e.lastSentNonce++
	return e.lastSentNonce
}

// seal implements §4.3.1's encryption + header-trick step and
// prepends the nonce (when windowed).
func (e *Engine) seal(content []byte, nonce uint64) []byte {
	var out []byte
	if e.isWindowed {
		out = codec.WriteVarLong(nil, nonce)
	}

	if !e.isSecure {
		content[0] &^= 1 // force header-trick LSB to 0 when unencrypted
		return append(out, content...)
	}

	content[0] &^= 1 // plaintext header LSB forced to 0 before sealing
	var ad []byte
	if e.isWindowed {
		ad = codec.WriteVarLong(nil, nonce)
	}
	ciphertext, tag, err := xcrypto.AEADSeal(xcrypto.AEADParams{
		Key:     e.key,
		Nonce:   nonce,
		AD:      ad,
		TagLen:  tagLen,
		Payload: content,
	})
	if err != nil {
		// key is malformed; nothing sane to send.
		return out
	}
	ciphertext[0] |= 1 // header trick: ciphertext[0] LSB forced to 1
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out
}
