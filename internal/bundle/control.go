package bundle

import "puffer/internal/codec"

// Control command codes, carried as the leading VarLong of a channel-0
// packet's payload (spec.md §6). Only Heartbeat and LegacyAck are
// interpreted by the engine itself; everything else is session-layer
// semantics (C4) and is handed up through NextControl unexamined.
//
// Open question resolution (spec.md §9 "multi-revision ambiguity"):
// this module picks command 1000 as the sole disconnect code (the
// value Tunnel.hpp, the larger/later revision, actually emits from its
// disconnect() method) rather than also accepting 2 or 100 — see
// DESIGN.md.
const (
	CmdHeartbeat     = 0
	CmdLegacyAck     = 1
	CmdProbe         = 10
	CmdAnnounce      = 11
	CmdSwitchRequest = 20
	CmdSwitchResponse = 21
	CmdDisconnect    = 1000
)

// buildHeartbeatPayload encodes command 0: VarLong(0), then the acked
// (received) ranges, then the unavailable (never-to-be-delivered)
// ranges drained from the replay window.
func (e *Engine) buildHeartbeatPayload() []byte {
	buf := codec.WriteVarLong(nil, CmdHeartbeat)
	buf = appendRanges(buf, e.recv.showReceived())
	buf = appendRanges(buf, toRanges(e.recv.drainDropped()))
	return buf
}

func appendRanges(buf []byte, ranges []idRange) []byte {
	buf = codec.WriteVarLong(buf, uint64(len(ranges)))
	for _, r := range ranges {
		buf = codec.WriteVarLong(buf, r.From)
		buf = codec.WriteVarLong(buf, r.To)
	}
	return buf
}

func readRanges(buf []byte, cursor int) ([]idRange, int, bool) {
	count, n, err := codec.ReadVarLong(buf, cursor)
	if err != nil {
		return nil, 0, false
	}
	cursor += n
	ranges := make([]idRange, 0, count)
	for i := uint64(0); i < count; i++ {
		from, n, err := codec.ReadVarLong(buf, cursor)
		if err != nil {
			return nil, 0, false
		}
		cursor += n
		to, n, err := codec.ReadVarLong(buf, cursor)
		if err != nil {
			return nil, 0, false
		}
		cursor += n
		ranges = append(ranges, idRange{From: from, To: to})
	}
	return ranges, cursor, true
}

// processHeartbeat applies command 0's ack/unavailable ranges to the
// important-inflight list, per §4.3.5.
//
// Acked ranges are simple removals. Unavailable ranges name ids the
// peer's replay window has given up on ever accepting (too old, or
// retired by drainDropped on the receive side) — those bundles can
// never be delivered under their original nonce, so each matching
// inflight entry is cloned into the priority-resend queue (to be
// resealed under a fresh nonce on a later flush) and then removed
// from inflight, with the resend cursor reset to the head.
func (e *Engine) processHeartbeat(payload []byte) {
	cursor := 1 // past the leading VarLong(0) command tag
	acked, cursor, ok := readRanges(payload, cursor)
	if !ok {
		return
	}
	unavailable, _, ok := readRanges(payload, cursor)
	if !ok {
		return
	}
	e.applyAcks(acked)
	e.queueUnavailableForResend(unavailable)
}

// queueUnavailableForResend implements the "Selective repeat" clause
// of §4.3.5: clone each inflight entry whose id falls in an
// unavailable range into priorityResend, then drop the original
// (non-recoverable under its old nonce) and reset resendPosition.
func (e *Engine) queueUnavailableForResend(unavailable []idRange) {
	if len(unavailable) == 0 {
		return
	}
	matched := false
	kept := e.importantInflight[:0]
	for _, entry := range e.importantInflight {
		if idInRanges(entry.id, unavailable) {
			e.priorityResend = append(e.priorityResend, entry)
			matched = true
			continue
		}
		kept = append(kept, entry)
	}
	e.importantInflight = kept
	if matched {
		e.resendPosition = 0
	}
}

// processLegacyAck applies command 1's ack ranges (older revision,
// no anchor semantics retained — the anchor VarLong is skipped).
func (e *Engine) processLegacyAck(payload []byte) {
	_, cursor, err := codec.ReadVarLong(payload, 1) // skip ignored anchor
	if err != nil {
		return
	}
	acked, _, ok := readRanges(payload, 1+cursor)
	if !ok {
		return
	}
	e.applyAcks(acked)
}

func (e *Engine) applyAcks(ranges []idRange) {
	if len(ranges) == 0 {
		return
	}
	kept := e.importantInflight[:0]
	for _, entry := range e.importantInflight {
		if idInRanges(entry.id, ranges) {
			continue
		}
		kept = append(kept, entry)
	}
	if len(kept) != len(e.importantInflight) {
		e.importantInflight = kept
		if e.resendPosition > len(e.importantInflight) {
			e.resendPosition = len(e.importantInflight)
		}
	}
}

func idInRanges(id uint64, ranges []idRange) bool {
	for _, r := range ranges {
		if id >= r.From && id <= r.To {
			return true
		}
	}
	return false
}
