package xcrypto

import (
	"bytes"
	"testing"
)

func mustRandom(t *testing.T, n int) []byte {
	t.Helper()
	b, err := RandomBytes(n)
	if err != nil {
		t.Fatalf("RandomBytes(%d) failed: %v", n, err)
	}
	return b
}

func TestAEADRoundTrip(t *testing.T) {
	key := mustRandom(t, 32)
	ad := []byte("associated data")
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ct, tag, err := AEADSeal(AEADParams{Key: key, Nonce: 42, AD: ad, TagLen: 8, Payload: plaintext})
	if err != nil {
		t.Fatalf("AEADSeal failed: %v", err)
	}
	if len(ct) != len(plaintext) {
		t.Fatalf("ciphertext length mismatch: got %d want %d", len(ct), len(plaintext))
	}

	pt, ok, err := AEADOpen(AEADParams{Key: key, Nonce: 42, AD: ad, TagLen: 8, Payload: ct}, tag)
	if err != nil {
		t.Fatalf("AEADOpen error: %v", err)
	}
	if !ok {
		t.Fatalf("AEADOpen failed to verify a valid tag")
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, plaintext)
	}
}

func TestAEADBitFlipsFailClosed(t *testing.T) {
	key := mustRandom(t, 32)
	ad := []byte("ad")
	plaintext := []byte("secret payload")
	ct, tag, err := AEADSeal(AEADParams{Key: key, Nonce: 7, AD: ad, TagLen: 16, Payload: plaintext})
	if err != nil {
		t.Fatalf("AEADSeal failed: %v", err)
	}

	flipCT := append([]byte(nil), ct...)
	flipCT[0] ^= 0x01
	if _, ok, _ := AEADOpen(AEADParams{Key: key, Nonce: 7, AD: ad, TagLen: 16, Payload: flipCT}, tag); ok {
		t.Fatalf("bit flip in ciphertext should fail verification")
	}

	flipTag := append([]byte(nil), tag...)
	flipTag[0] ^= 0x01
	if _, ok, _ := AEADOpen(AEADParams{Key: key, Nonce: 7, AD: ad, TagLen: 16, Payload: ct}, flipTag); ok {
		t.Fatalf("bit flip in tag should fail verification")
	}

	flipAD := append([]byte(nil), ad...)
	flipAD[0] ^= 0x01
	if _, ok, _ := AEADOpen(AEADParams{Key: key, Nonce: 7, AD: flipAD, TagLen: 16, Payload: ct}, tag); ok {
		t.Fatalf("bit flip in AD should fail verification")
	}

	if _, ok, _ := AEADOpen(AEADParams{Key: key, Nonce: 8, AD: ad, TagLen: 16, Payload: ct}, tag); ok {
		t.Fatalf("wrong nonce should fail verification")
	}
}

func TestKdfDeterministic(t *testing.T) {
	secret := []byte("shared-secret-material")
	out1, err := KdfNoSalt(secret, []byte("RhoPufferV1"), 32)
	if err != nil {
		t.Fatalf("Kdf failed: %v", err)
	}
	out2, err := KdfNoSalt(secret, []byte("RhoPufferV1"), 32)
	if err != nil {
		t.Fatalf("Kdf failed: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatalf("Kdf is not deterministic for identical inputs")
	}
	out3, _ := KdfNoSalt(secret, []byte("RHO_SWITCH"), 32)
	if bytes.Equal(out1, out3) {
		t.Fatalf("distinct info strings must not collide")
	}
}

func TestSharedKeyAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	sharedAB, err := SharedKey(a.Secret, b.Public)
	if err != nil {
		t.Fatalf("SharedKey A->B failed: %v", err)
	}
	sharedBA, err := SharedKey(b.Secret, a.Public)
	if err != nil {
		t.Fatalf("SharedKey B->A failed: %v", err)
	}
	if !bytes.Equal(sharedAB, sharedBA) {
		t.Fatalf("shared secrets do not match")
	}
}

func TestConstantTimeEqualsNoShortCircuit(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 5}
	if ConstantTimeEquals(a, b, -1) {
		t.Fatalf("expected mismatch")
	}
	c := []byte{9, 2, 3, 4}
	if ConstantTimeEquals(a, c, -1) {
		t.Fatalf("expected mismatch")
	}
	if !ConstantTimeEquals(a, a, -1) {
		t.Fatalf("expected equal buffers to compare equal")
	}
	if !ConstantTimeEquals(a, []byte{1, 2, 3, 4, 5, 6}, 3) {
		t.Fatalf("prefix compare with explicit limit should ignore the rest")
	}
}

func TestXEdDSASignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	message := []byte("proof of possession")
	nonceSeed := mustRandom(t, 64)

	sig, err := SignX(kp.Secret, message, nonceSeed)
	if err != nil {
		t.Fatalf("SignX failed: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature should be 64 bytes, got %d", len(sig))
	}
	if !VerifyX(kp.Public, message, sig) {
		t.Fatalf("VerifyX rejected a valid signature")
	}

	tampered := append([]byte(nil), message...)
	tampered[0] ^= 0x01
	if VerifyX(kp.Public, tampered, sig) {
		t.Fatalf("VerifyX accepted a signature over a different message")
	}

	other, _ := GenerateKeyPair()
	if VerifyX(other.Public, message, sig) {
		t.Fatalf("VerifyX accepted a signature under the wrong public key")
	}
}
