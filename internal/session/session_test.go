package session

import (
	"crypto/rand"
	"testing"

	"puffer/internal/bundle"
	"puffer/internal/clock"
	"puffer/internal/metrics"
	"puffer/internal/xcrypto"
)

func TestProbeAnnounceDelivered(t *testing.T) {
	met := metrics.New()
	clk := clock.NewFake(0)
	engineA := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	engineB := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	sessA := New(engineA, clk, met)
	sessB := New(engineB, clk, met)

	var gotProbe map[uint64][]byte
	sessB.OnProbe = func(meta map[uint64][]byte) { gotProbe = meta }

	if err := sessA.Probe(map[uint64][]byte{1: []byte("hostA")}); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if sessA.State() != EphemeralPublished {
		t.Fatalf("state after Probe = %v, want EphemeralPublished", sessA.State())
	}

	out := engineA.Flush()
	if out == nil {
		t.Fatalf("expected a bundle from Flush")
	}
	engineB.Parse(out)
	sessB.PumpControl()

	if gotProbe == nil {
		t.Fatalf("OnProbe did not fire")
	}
	if string(gotProbe[1]) != "hostA" {
		t.Fatalf("probe meta mismatch: got %q", gotProbe[1])
	}
}

func TestAnnounceCarriesEphemeral(t *testing.T) {
	met := metrics.New()
	clk := clock.NewFake(0)
	engineA := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	engineB := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	sessA := New(engineA, clk, met)
	sessB := New(engineB, clk, met)

	var peerEph []byte
	sessB.OnAnnounce = func(meta map[uint64][]byte, eph []byte) { peerEph = eph }

	if err := sessA.Announce(nil); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	out := engineA.Flush()
	if out == nil {
		t.Fatalf("expected a bundle")
	}
	engineB.Parse(out)
	sessB.PumpControl()

	wantPub, err := sessA.ownEphemeral.Public()
	if err != nil {
		t.Fatalf("Public: %v", err)
	}
	if len(peerEph) != 32 {
		t.Fatalf("peerEph length = %d, want 32", len(peerEph))
	}
	for i := range wantPub {
		if peerEph[i] != wantPub[i] {
			t.Fatalf("peerEph mismatch at byte %d", i)
		}
	}
}

// TestSwitchHandshakeReachesLive drives both sides of the
// switch-request/switch-response exchange through a pair of engines
// linked by Flush/Parse: announce to exchange ephemerals, request a
// switch, accept it, and confirm both sides land in Live with the
// same derived session key.
func TestSwitchHandshakeReachesLive(t *testing.T) {
	met := metrics.New()
	clk := clock.NewFake(0)
	engineA := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	engineB := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	sessA := New(engineA, clk, met)
	sessB := New(engineB, clk, met)

	var peerEphForA []byte
	sessA.OnAnnounce = func(meta map[uint64][]byte, eph []byte) { peerEphForA = eph }
	if err := sessB.Announce(nil); err != nil {
		t.Fatalf("B.Announce: %v", err)
	}
	if out := engineB.Flush(); out != nil {
		engineA.Parse(out)
		sessA.PumpControl()
	}
	if peerEphForA == nil {
		t.Fatalf("A never learned B's ephemeral")
	}

	var liveA, liveB bool
	sessA.OnLive = func() { liveA = true }
	sessB.OnLive = func() { liveB = true }
	sessB.OnSwitchRequest = func(data map[uint64][]byte, validated []StaticProof, peerEph []byte) {
		if err := sessB.AcceptSwitch(map[uint64][]byte{2: []byte("ack")}, nil); err != nil {
			t.Fatalf("AcceptSwitch: %v", err)
		}
	}
	accepted := false
	sessA.OnSwitchAccepted = func(data map[uint64][]byte, validated []StaticProof) bool {
		accepted = true
		return true
	}

	if err := sessA.RequestSwitch(map[uint64][]byte{1: []byte("hello")}, peerEphForA, nil); err != nil {
		t.Fatalf("RequestSwitch: %v", err)
	}
	if sessA.State() != SwitchPending {
		t.Fatalf("A state = %v, want SwitchPending", sessA.State())
	}

	reqBundle := engineA.Flush()
	if reqBundle == nil {
		t.Fatalf("expected a switch-request bundle")
	}
	engineB.Parse(reqBundle)
	sessB.PumpControl()

	if sessB.State() != Live {
		t.Fatalf("B state = %v, want Live", sessB.State())
	}
	if !liveB {
		t.Fatalf("B's OnLive did not fire")
	}

	respBundle := engineB.Flush()
	if respBundle == nil {
		t.Fatalf("expected a switch-response bundle")
	}
	engineA.Parse(respBundle)
	sessA.PumpControl()

	if sessA.State() != Live {
		t.Fatalf("A state = %v, want Live", sessA.State())
	}
	if !liveA || !accepted {
		t.Fatalf("A's OnLive/OnSwitchAccepted did not fire: live=%v accepted=%v", liveA, accepted)
	}
	if len(sessA.sessionKey) != 32 || len(sessB.sessionKey) != 32 {
		t.Fatalf("session keys not derived: A=%d B=%d", len(sessA.sessionKey), len(sessB.sessionKey))
	}
	for i := range sessA.sessionKey {
		if sessA.sessionKey[i] != sessB.sessionKey[i] {
			t.Fatalf("session keys diverge at byte %d", i)
		}
	}
}

// TestSwitchResponsePreUpgradeFraming confirms the type-21 response
// produced by AcceptSwitch is still readable under the tunnel's old
// (pre-upgrade) isSecure/isWindowed framing, i.e. the security
// transition lands no earlier than the *next* Flush call.
func TestSwitchResponsePreUpgradeFraming(t *testing.T) {
	met := metrics.New()
	clk := clock.NewFake(0)
	engineA := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	engineB := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	sessA := New(engineA, clk, met)
	sessB := New(engineB, clk, met)

	var peerEphForA []byte
	sessA.OnAnnounce = func(meta map[uint64][]byte, eph []byte) { peerEphForA = eph }
	if err := sessB.Announce(nil); err != nil {
		t.Fatalf("B.Announce: %v", err)
	}
	engineA.Parse(engineB.Flush())
	sessA.PumpControl()
	if peerEphForA == nil {
		t.Fatalf("A never learned B's ephemeral")
	}

	sessB.OnSwitchRequest = func(data map[uint64][]byte, validated []StaticProof, peerEph []byte) {
		if err := sessB.AcceptSwitch(nil, nil); err != nil {
			t.Fatalf("AcceptSwitch: %v", err)
		}
	}
	if err := sessA.RequestSwitch(nil, peerEphForA, nil); err != nil {
		t.Fatalf("RequestSwitch: %v", err)
	}
	engineB.Parse(engineA.Flush())
	sessB.PumpControl()

	if engineB.IsSecure() {
		t.Fatalf("engine B flipped to secure before its switch-response Flush")
	}
	respBundle := engineB.Flush()
	if respBundle == nil {
		t.Fatalf("expected a switch-response bundle")
	}
	if !engineB.IsSecure() {
		t.Fatalf("engine B should be secure immediately after flushing its response")
	}

	// A still expects the pre-upgrade (plaintext) framing on this
	// exact bundle; if it had been sealed under the new key A
	// couldn't parse it without first knowing that key.
	if engineA.IsSecure() {
		t.Fatalf("engine A should not yet be secure")
	}
	engineA.Parse(respBundle)
	sessA.PumpControl()
	if sessA.State() != Live {
		t.Fatalf("A did not reach Live from the response bundle")
	}
}

func TestValidateStaticsAcceptsOnlyMatching(t *testing.T) {
	own, err := xcrypto.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	ownPub, err := own.Public()
	if err != nil {
		t.Fatalf("Public: %v", err)
	}

	matching, err := xcrypto.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	matchingPub, err := matching.Public()
	if err != nil {
		t.Fatalf("Public: %v", err)
	}
	shared, err := matching.Shared(ownPub)
	if err != nil {
		t.Fatalf("Shared: %v", err)
	}
	goodProof, err := xcrypto.Hash(shared, 8, nil)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	statics := [][]byte{
		append(append([]byte{}, matchingPub...), goodProof...),
		append(append([]byte{}, matchingPub...), make([]byte, 8)...), // wrong proof
	}

	validated, err := validateStatics(statics, own)
	if err != nil {
		t.Fatalf("validateStatics: %v", err)
	}
	if len(validated) != 1 {
		t.Fatalf("validated count = %d, want 1", len(validated))
	}
	if string(validated[0].PublicKey) != string(matchingPub) {
		t.Fatalf("validated static has the wrong public key")
	}
}

func TestDisconnectDrainsThenFiresListener(t *testing.T) {
	met := metrics.New()
	clk := clock.NewFake(0)
	engine := bundle.NewEngine(bundle.Config{}, clk, rand.Reader, met)
	sess := New(engine, clk, met)

	var gotReason map[uint64][]byte
	sess.OnDisconnect = func(reason map[uint64][]byte) { gotReason = reason }

	sess.Disconnect(map[uint64][]byte{1: []byte("bye")})
	if sess.State() != DestroyPending {
		t.Fatalf("state = %v, want DestroyPending", sess.State())
	}

	for i := 0; i < 10 && sess.State() != Destroyed; i++ {
		engine.Flush()
	}
	if sess.State() != Destroyed {
		t.Fatalf("session never reached Destroyed")
	}
	if gotReason == nil || string(gotReason[1]) != "bye" {
		t.Fatalf("OnDisconnect reason mismatch: %v", gotReason)
	}
	if !engine.Destroyed() {
		t.Fatalf("engine not marked destroyed")
	}
}
