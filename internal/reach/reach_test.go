package reach

import (
	"bytes"
	"testing"

	"puffer/internal/clock"
	"puffer/internal/meta"
)

type fakeDialer struct {
	hops    [][]byte // sequence of meta.Hostname replies, nil = fully resolved before this hop
	i       int
	rootKey []byte
}

func (d *fakeDialer) Probe(dest NumericalHostname, outMeta map[uint64][]byte) (map[uint64][]byte, error) {
	resp := map[uint64][]byte{
		meta.Proofed: EncodeProofed([][]byte{d.rootKey}),
	}
	if d.i < len(d.hops) {
		resp[meta.Hostname] = d.hops[d.i]
	}
	d.i++
	return resp, nil
}

func TestReachResolvesThroughRelay(t *testing.T) {
	root := []byte("root-key")
	dialer := &fakeDialer{
		hops:    [][]byte{[]byte("10.0.0.2")},
		rootKey: root,
	}
	r := &Resolver{
		Dialer:         dialer,
		Source:         NumericalHostname{1},
		RootPublicKeys: [][]byte{root},
		Clock:          clock.NewFake(0),
	}

	final, err := r.Run(Hostname("relay1.example"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := NumericalHostname{10, 0, 0, 2}
	if len(final) != len(want) {
		t.Fatalf("resolved hostname mismatch: got %v want %v", final, want)
	}
	for i := range want {
		if final[i] != want[i] {
			t.Fatalf("resolved hostname mismatch: got %v want %v", final, want)
		}
	}
}

func TestReachRejectsUntrustedProof(t *testing.T) {
	dialer := &fakeDialer{rootKey: []byte("untrusted")}
	r := &Resolver{
		Dialer:         dialer,
		RootPublicKeys: [][]byte{[]byte("trusted")},
		Clock:          clock.NewFake(0),
	}
	if _, err := r.Run(Hostname("relay1.example")); err != ErrNoValidProof {
		t.Fatalf("expected ErrNoValidProof, got %v", err)
	}
}

func TestReachAlreadyNumeric(t *testing.T) {
	r := &Resolver{Dialer: &fakeDialer{}, Clock: clock.NewFake(0)}
	final, err := r.Run(Hostname("10.0.0.1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.String() != "10.0.0.1" {
		t.Fatalf("got %v", final)
	}
}

func TestNumericalHostnameTargetSourceRoundTrip(t *testing.T) {
	target := NumericalHostname{10, 0, 0, 1}
	source := NumericalHostname{7}
	blob := ToNumericalHostnameTargetSource(target, source)
	gotTarget, gotSource, ok := FromNumericalHostnameTargetSource(blob)
	if !ok {
		t.Fatalf("decode failed")
	}
	if !bytes.Equal(u64ToBytes(gotTarget), u64ToBytes(target)) {
		t.Fatalf("target mismatch: got %v want %v", gotTarget, target)
	}
	if !bytes.Equal(u64ToBytes(gotSource), u64ToBytes(source)) {
		t.Fatalf("source mismatch: got %v want %v", gotSource, source)
	}
}

func u64ToBytes(n NumericalHostname) []byte {
	out := make([]byte, len(n))
	for i, v := range n {
		out[i] = byte(v)
	}
	return out
}
