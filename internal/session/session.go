// Package session implements the session state machine (C4): ephemeral
// keypair generation, probe/announce, switch-request/switch-response
// with static-key proofs, atomic key rotation, and disconnect.
//
// Grounded on _examples/original_source/include/Rho/Tunnel.hpp for the
// transition/listener shape and on the teacher's internal/node.Session*
// types for the mutex-guarded state-holder style, adapted from a
// handshake-token store into a single stateful per-session machine
// wrapping a bundle.Engine.
package session

import (
	"errors"
	"sync"

	"puffer/internal/bundle"
	"puffer/internal/clock"
	"puffer/internal/codec"
	"puffer/internal/metrics"
	"puffer/internal/xcrypto"
)

type State int

const (
	Idle State = iota
	EphemeralPublished
	SwitchPending
	Live
	DestroyPending
	Destroyed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case EphemeralPublished:
		return "ephemeral-published"
	case SwitchPending:
		return "switch-pending"
	case Live:
		return "live"
	case DestroyPending:
		return "destroy-pending"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

var errNotIdle = errors.New("session: requestSwitch requires Idle or EphemeralPublished")

// StaticProof is a long-term identity's public key plus a
// proof-of-possession derived against a specific peer ephemeral.
type StaticProof struct {
	PublicKey []byte
	Proof     []byte // BLAKE2b-8(X25519(staticSec, peerEph))
}

// Session drives a bundle.Engine through the handshake described in
// spec.md §4.4. One Session owns exactly one Engine; concurrency
// follows the engine's single-threaded-per-session model (§5).
type Session struct {
	mu sync.Mutex

	engine *bundle.Engine
	clk    clock.Clock
	met    *metrics.Metrics

	state State

	ownEphemeral *xcrypto.Ephemeral
	theirEphPub  []byte

	lastSwitchCode []byte
	tempShared     []byte
	tempKey        []byte

	sessionKey []byte

	// OnProbe/OnAnnounce fire when a type-10/11 control packet is
	// dispatched to this session's control inbox.
	OnProbe    func(meta map[uint64][]byte)
	OnAnnounce func(meta map[uint64][]byte, peerEphemeral []byte)

	// OnSwitchRequest fires for a passively-received type-20; the
	// application inspects data/validated statics and may call
	// AcceptSwitch to move to Live.
	OnSwitchRequest func(data map[uint64][]byte, validated []StaticProof, peerEphemeral []byte)

	// OnSwitchAccepted fires for a type-21 response to our own
	// requestSwitch; returning false aborts the upgrade.
	OnSwitchAccepted func(data map[uint64][]byte, validated []StaticProof) bool

	OnLive      func()
	OnDisconnect func(reason map[uint64][]byte)
}

// New constructs a Session bound to engine, initially Idle.
func New(engine *bundle.Engine, clk clock.Clock, met *metrics.Metrics) *Session {
	return &Session{engine: engine, clk: clk, met: met, state: Idle}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Engine() *bundle.Engine { return s.engine }

func (s *Session) ensureEphemeral() (*xcrypto.Ephemeral, error) {
	if s.ownEphemeral != nil {
		return s.ownEphemeral, nil
	}
	eph, err := xcrypto.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	s.ownEphemeral = eph
	return eph, nil
}

// Probe emits control type 10 with the given metadata, moving Idle to
// EphemeralPublished.
func (s *Session) Probe(meta map[uint64][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ensureEphemeral(); err != nil {
		return err
	}
	payload := codec.WriteVarLong(nil, bundle.CmdProbe)
	payload = codec.WriteMap(payload, meta)
	s.engine.PushControl(payload, false)
	s.state = EphemeralPublished
	return nil
}

// Announce emits control type 11 with metadata plus this session's
// own ephemeral public key.
func (s *Session) Announce(meta map[uint64][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	eph, err := s.ensureEphemeral()
	if err != nil {
		return err
	}
	pub, err := eph.Public()
	if err != nil {
		return err
	}
	payload := codec.WriteVarLong(nil, bundle.CmdAnnounce)
	payload = codec.WriteMap(payload, meta)
	payload = append(payload, pub...)
	s.engine.PushControl(payload, false)
	s.state = EphemeralPublished
	return nil
}

const switchInfoLabel = "RHO_SWITCH"

// RequestSwitch begins the active side of a key switch: derives a
// temporary shared key against peerEph, seals data plus static-key
// proofs, and emits control type 20.
func (s *Session) RequestSwitch(data map[uint64][]byte, peerEph []byte, localStatics []*xcrypto.Ephemeral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle && s.state != EphemeralPublished {
		return errNotIdle
	}
	own, err := s.ensureEphemeral()
	if err != nil {
		return err
	}

	switchCode, err := xcrypto.RandomBytes(8)
	if err != nil {
		return err
	}
	tempShared, err := own.Shared(peerEph)
	if err != nil {
		return err
	}
	tempKey, err := xcrypto.Kdf(tempShared, nil, []byte(switchInfoLabel), 32)
	if err != nil {
		return err
	}

	plaintext, err := serializeSwitchPayload(data, localStatics, peerEph)
	if err != nil {
		return err
	}

	ciphertext, tag, err := xcrypto.AEADSeal(xcrypto.AEADParams{
		Key: tempKey, Nonce: 0, AD: switchCode, TagLen: 16, Payload: plaintext,
	})
	if err != nil {
		return err
	}

	s.lastSwitchCode = switchCode
	s.theirEphPub = append([]byte(nil), peerEph...)
	s.tempShared = tempShared
	s.tempKey = tempKey

	ownPub, err := own.Public()
	if err != nil {
		return err
	}
	payload := codec.WriteVarLong(nil, bundle.CmdSwitchRequest)
	payload = append(payload, switchCode...)
	payload = append(payload, ownPub...)
	payload = append(payload, ciphertext...)
	payload = append(payload, tag...)
	s.engine.PushControl(payload, true)
	s.state = SwitchPending
	return nil
}

// serializeSwitchPayload encodes {data-map, statics-proof-list} where
// each static contributes publicKey(32) ∥ BLAKE2b-8(X25519(staticSec, peerEph)).
func serializeSwitchPayload(data map[uint64][]byte, statics []*xcrypto.Ephemeral, peerEph []byte) ([]byte, error) {
	buf := codec.WriteMap(nil, data)
	buf = codec.WriteVarLong(buf, uint64(len(statics)))
	for _, st := range statics {
		shared, err := st.Shared(peerEph)
		if err != nil {
			return nil, err
		}
		proof, err := xcrypto.Hash(shared, 8, nil)
		if err != nil {
			return nil, err
		}
		stPub, err := st.Public()
		if err != nil {
			return nil, err
		}
		buf = append(buf, stPub...)
		buf = append(buf, proof...)
	}
	return buf, nil
}

func parseSwitchPayload(buf []byte) (data map[uint64][]byte, statics [][]byte, cursor int, err error) {
	data, n, err := codec.ReadMap(buf, 0)
	if err != nil {
		return nil, nil, 0, err
	}
	cursor = n
	count, n, err := codec.ReadVarLong(buf, cursor)
	if err != nil {
		return nil, nil, 0, err
	}
	cursor += n
	for i := uint64(0); i < count; i++ {
		if cursor+40 > len(buf) {
			return nil, nil, 0, errors.New("session: truncated static proof")
		}
		statics = append(statics, buf[cursor:cursor+40])
		cursor += 40
	}
	return data, statics, cursor, nil
}

// validateStatics recomputes each candidate's proof against ownEph's
// shared secret and keeps only the ones that verify.
func validateStatics(statics [][]byte, ownEph *xcrypto.Ephemeral) ([]StaticProof, error) {
	var out []StaticProof
	for _, entry := range statics {
		pub := entry[:32]
		proof := entry[32:40]
		shared, err := ownEph.Shared(pub)
		if err != nil {
			continue
		}
		want, err := xcrypto.Hash(shared, 8, nil)
		if err != nil {
			continue
		}
		if xcrypto.ConstantTimeEquals(want, proof, 8) {
			out = append(out, StaticProof{PublicKey: append([]byte(nil), pub...), Proof: append([]byte(nil), proof...)})
		}
	}
	return out, nil
}

// HandleSwitchRequest processes a passively-received type-20 control
// payload (already stripped of the leading command VarLong).
func (s *Session) HandleSwitchRequest(payload []byte) error {
	s.mu.Lock()
	locked := true
	defer func() {
		if locked {
			s.mu.Unlock()
		}
	}()
	if len(payload) < 8+32 {
		return errors.New("session: truncated switch-request")
	}
	switchCode := payload[:8]
	theirEph := payload[8:40]
	sealed := payload[40:]
	if len(sealed) < 16 {
		return errors.New("session: truncated switch-request body")
	}
	ciphertext := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	own, err := s.ensureEphemeral()
	if err != nil {
		return err
	}
	tempShared, err := own.Shared(theirEph)
	if err != nil {
		return err
	}
	tempKey, err := xcrypto.Kdf(tempShared, nil, []byte(switchInfoLabel), 32)
	if err != nil {
		return err
	}

	plaintext, ok, err := xcrypto.AEADOpen(xcrypto.AEADParams{
		Key: tempKey, Nonce: 0, AD: switchCode, TagLen: 16, Payload: ciphertext,
	}, tag)
	if err != nil || !ok {
		return nil // drop silently per §7 "Handshake proof invalid"
	}

	data, statics, _, err := parseSwitchPayload(plaintext)
	if err != nil {
		return nil
	}
	validated, _ := validateStatics(statics, own)

	s.lastSwitchCode = append([]byte(nil), switchCode...)
	s.theirEphPub = append([]byte(nil), theirEph...)
	s.tempShared = tempShared
	s.tempKey = tempKey
	s.state = SwitchPending

	// The listener runs without the lock held so it can call
	// AcceptSwitch.
	onRequest := s.OnSwitchRequest
	locked = false
	s.mu.Unlock()
	if onRequest != nil {
		onRequest(data, validated, theirEph)
	}
	return nil
}

// AcceptSwitch is called by the application (typically from within
// OnSwitchRequest) to complete a passive switch: seals a response,
// derives sessionKey, and stages the atomic upgrade to secure.
func (s *Session) AcceptSwitch(data map[uint64][]byte, localStatics []*xcrypto.Ephemeral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SwitchPending {
		return errors.New("session: acceptSwitch requires SwitchPending")
	}
	plaintext, err := serializeSwitchPayload(data, localStatics, s.theirEphPub)
	if err != nil {
		return err
	}
	ciphertext, tag, err := xcrypto.AEADSeal(xcrypto.AEADParams{
		Key: s.tempKey, Nonce: 1, AD: s.lastSwitchCode, TagLen: 16, Payload: plaintext,
	})
	if err != nil {
		return err
	}

	payload := codec.WriteVarLong(nil, bundle.CmdSwitchResponse)
	payload = append(payload, s.lastSwitchCode...)
	payload = append(payload, ciphertext...)
	payload = append(payload, tag...)
	s.engine.PushControl(payload, true)

	sessionKey, err := xcrypto.Kdf(s.tempShared, nil, nil, 32)
	if err != nil {
		return err
	}
	s.sessionKey = sessionKey
	s.engine.EnableSecurityAfterFlush(sessionKey)
	s.state = Live
	if s.OnLive != nil {
		s.OnLive()
	}
	return nil
}

// HandleSwitchResponse processes a type-21 reply to our own
// RequestSwitch.
func (s *Session) HandleSwitchResponse(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SwitchPending {
		return nil
	}
	if len(payload) < 8 {
		return nil
	}
	code := payload[:8]
	if !xcrypto.ConstantTimeEquals(code, s.lastSwitchCode, 8) {
		return nil
	}
	sealed := payload[8:]
	if len(sealed) < 16 {
		return nil
	}
	ciphertext := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	plaintext, ok, err := xcrypto.AEADOpen(xcrypto.AEADParams{
		Key: s.tempKey, Nonce: 1, AD: code, TagLen: 16, Payload: ciphertext,
	}, tag)
	if err != nil || !ok {
		return nil
	}
	data, statics, _, err := parseSwitchPayload(plaintext)
	if err != nil {
		return nil
	}
	own := s.ownEphemeral
	validated, _ := validateStatics(statics, own)

	sessionKey, err := xcrypto.Kdf(s.tempShared, nil, nil, 32)
	if err != nil {
		return err
	}

	accept := true
	if s.OnSwitchAccepted != nil {
		accept = s.OnSwitchAccepted(data, validated)
	}
	if !accept {
		return nil
	}
	s.sessionKey = sessionKey
	s.engine.EnableSecurityAfterFlush(sessionKey)
	s.state = Live
	if s.OnLive != nil {
		s.OnLive()
	}
	return nil
}

// Disconnect enqueues an important control packet carrying reason and
// marks the engine for teardown once outbox and inflight drain.
func (s *Session) Disconnect(reason map[uint64][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := codec.WriteVarLong(nil, bundle.CmdDisconnect)
	payload = codec.WriteMap(payload, reason)
	s.engine.PushControl(payload, true)
	s.engine.RequestDestroy()
	s.state = DestroyPending
	s.engine.DestroyListener = func() {
		s.mu.Lock()
		s.state = Destroyed
		s.ownEphemeral = nil
		s.tempShared = nil
		s.tempKey = nil
		s.mu.Unlock()
		if s.OnDisconnect != nil {
			s.OnDisconnect(reason)
		}
	}
}

// PumpControl drains the engine's control inbox, dispatching each
// payload to the matching listener. Callers invoke this after each
// Engine.Parse.
func (s *Session) PumpControl() {
	for {
		payload, ok := s.engine.NextControl()
		if !ok {
			return
		}
		s.dispatch(payload)
	}
}

func (s *Session) dispatch(payload []byte) {
	if len(payload) == 0 {
		return
	}
	cmd, n, err := codec.ReadVarLong(payload, 0)
	if err != nil {
		return
	}
	body := payload[n:]
	switch cmd {
	case bundle.CmdProbe:
		meta, _, err := codec.ReadMap(body, 0)
		if err == nil && s.OnProbe != nil {
			s.OnProbe(meta)
		}
	case bundle.CmdAnnounce:
		meta, cursor, err := codec.ReadMap(body, 0)
		if err != nil {
			return
		}
		var peerEph []byte
		if cursor+32 <= len(body) {
			peerEph = body[cursor : cursor+32]
		}
		if s.OnAnnounce != nil {
			s.OnAnnounce(meta, peerEph)
		}
	case bundle.CmdSwitchRequest:
		_ = s.HandleSwitchRequest(body)
	case bundle.CmdSwitchResponse:
		_ = s.HandleSwitchResponse(body)
	case bundle.CmdDisconnect:
		reason, _, err := codec.ReadMap(body, 0)
		if err != nil {
			reason = nil
		}
		s.mu.Lock()
		s.state = Destroyed
		s.mu.Unlock()
		if s.OnDisconnect != nil {
			s.OnDisconnect(reason)
		}
	}
}
