package bundle

import (
	"io"

	"puffer/internal/clock"
	"puffer/internal/metrics"
)

type inflightEntry struct {
	id        uint64
	sealed    []byte
	content   []byte // pre-seal plaintext, kept so a priority-resend can reseal under a fresh nonce
	important bool
}

type reassemblyBuffer struct {
	channel uint64
	data    []byte
}

// Engine is the bundle engine (C3): a single-threaded, cooperative
// per-session object exposing exactly three entry points — Push,
// Flush, Parse — per spec.md §5's concurrency model. It holds no
// blocking operations and spawns no goroutines.
type Engine struct {
	cfg Config
	clk clock.Clock
	rnd io.Reader
	met *metrics.Metrics

	key        []byte
	isSecure   bool
	isWindowed bool

	secureAfterFlush  bool
	stagedKey         []byte
	windowAfterFlush  bool
	destroyAfterFlush bool
	destroyed         bool

	lastSentNonce   uint64
	lastFlushAt     int64
	lastHeartbeatAt int64
	asleep          bool

	glareInited  bool
	glarePos     bool
	wantGlarePos bool
	glareSet     bool

	outbox            []Packet
	importantInflight []inflightEntry
	resendPosition    int
	priorityResend    []inflightEntry

	recv *replayWindow

	reassembly map[uint64]*reassemblyBuffer

	controlInbox [][]byte

	// DestroyListener fires once after the outbox and every inflight
	// list have drained following a RequestDestroy() request.
	DestroyListener func()
}

// NewEngine constructs an engine bound to clk/rnd (injectable per
// spec.md §9) with the given config.
func NewEngine(cfg Config, clk clock.Clock, rnd io.Reader, met *metrics.Metrics) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:        cfg,
		clk:        clk,
		rnd:        rnd,
		met:        met,
		recv:       newReplayWindow(cfg.WindowBits),
		reassembly: make(map[uint64]*reassemblyBuffer),
	}
}

// Push enqueues an application packet for the next Flush to pack.
func (e *Engine) Push(p Packet) {
	if p.Channel == 0 {
		return // channel 0 is reserved for control traffic
	}
	e.outbox = append(e.outbox, p)
}

// PushControl enqueues a channel-0 control packet (used by this
// package's own heartbeat emission and by the session layer for
// probe/announce/switch/disconnect).
func (e *Engine) PushControl(payload []byte, important bool) {
	e.outbox = append(e.outbox, Packet{
		Payload:        payload,
		Channel:        0,
		Important:      important,
		FragmentStatus: FragSingle,
	})
}

// EnableSecurity immediately adopts key as the session key, resetting
// nonce/window state (used for the very first key or a non-atomic
// rekey; atomic rekeys should use EnableSecurityAfterFlush).
func (e *Engine) EnableSecurity(key []byte) {
	e.key = append([]byte(nil), key...)
	e.isSecure = true
	e.lastSentNonce = 0
	e.recv = newReplayWindow(e.cfg.WindowBits)
	e.outbox = nil
}

// EnableSecurityAfterFlush stages key for atomic adoption at the next
// Flush boundary, so bundles already sealed under the old key remain
// valid in flight (spec.md §3's secure-after-flush invariant).
func (e *Engine) EnableSecurityAfterFlush(key []byte) {
	e.stagedKey = append([]byte(nil), key...)
	e.secureAfterFlush = true
}

// EnableWindowingAfterFlush stages isWindowed=true for the next flush.
func (e *Engine) EnableWindowingAfterFlush() {
	e.windowAfterFlush = true
}

// applyDeferredTransitions runs at each flush boundary per §4.3.2.
func (e *Engine) applyDeferredTransitions() {
	if e.secureAfterFlush {
		e.key = e.stagedKey
		e.stagedKey = nil
		e.isSecure = true
		e.secureAfterFlush = false
	}
	if e.windowAfterFlush {
		e.isWindowed = true
		e.windowAfterFlush = false
	}
}

// RequestDestroy marks the engine for teardown once outbox and every
// inflight list have drained (spec.md §3 lifecycle, §4.3.2).
func (e *Engine) RequestDestroy() {
	e.destroyAfterFlush = true
}

// Destroyed reports whether the drain-then-destroy sequence completed.
func (e *Engine) Destroyed() bool {
	return e.destroyed
}

func (e *Engine) drained() bool {
	return len(e.outbox) == 0 && len(e.importantInflight) == 0 && len(e.priorityResend) == 0
}

// NextControl pops the oldest unhandled control payload (any
// channel-0 command this package doesn't interpret itself: probe,
// announce, switch-request/response, disconnect). Returns ok=false
// when empty.
func (e *Engine) NextControl() (payload []byte, ok bool) {
	if len(e.controlInbox) == 0 {
		return nil, false
	}
	payload = e.controlInbox[0]
	e.controlInbox = e.controlInbox[1:]
	return payload, true
}

// IsSecure reports whether the session currently encrypts bundles.
func (e *Engine) IsSecure() bool { return e.isSecure }

// IsWindowed reports whether the session currently assigns/consumes nonces.
func (e *Engine) IsWindowed() bool { return e.isWindowed }

// Asleep returns the engine's asleep flag. Nothing in this package sets
// the flag, so it is always false; going quiet past aliveTimeout only
// makes the next Flush send a heartbeat.
func (e *Engine) Asleep() bool { return e.asleep }
