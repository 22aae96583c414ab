package xcrypto

import (
	"bytes"
	"errors"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

// XEdDSA signs and verifies with X25519 keys directly, avoiding a
// second Ed25519 keypair, using BLAKE2b-64 in place of SHA-512 for
// both the nonce (which also mixes in caller randomness) and the challenge hash (spec.md §4.2:
// "XEdDSA over X25519 keys using BLAKE2b in place of SHA-512"). The
// birational map between the Montgomery (X25519) and twisted Edwards
// curve models used here is the standard y=(u-1)/(u+1) substitution;
// the sign ambiguity it introduces is resolved by always picking the
// Edwards point whose compressed sign bit is 0, negating the scalar
// on the signing side when needed to keep the pair consistent.

const signSeedLen = 64

// montgomeryToEdwards recovers the twisted-Edwards point corresponding
// to a Montgomery u-coordinate (a raw 32-byte X25519 public key), with
// its compressed sign bit forced to 0.
func montgomeryToEdwards(pub []byte) (*edwards25519.Point, error) {
	if len(pub) != 32 {
		return nil, errors.New("xcrypto: xeddsa public key must be 32 bytes")
	}
	u := new(field.Element)
	if _, err := u.SetBytes(pub); err != nil {
		return nil, err
	}
	one := new(field.Element).One()
	num := new(field.Element).Subtract(u, one)
	den := new(field.Element).Add(u, one)
	invDen := new(field.Element).Invert(den)
	y := new(field.Element).Multiply(num, invDen)

	yBytes := y.Bytes()
	yBytes[31] &= 0x7f // force compressed sign bit 0

	p := new(edwards25519.Point)
	if _, err := p.SetBytes(yBytes); err != nil {
		return nil, errors.New("xcrypto: invalid curve point for xeddsa public key")
	}
	return p, nil
}

// calculateKeyPair derives the Edwards (scalar, point) pair for a raw
// X25519 secret scalar, choosing the scalar sign so the resulting
// public point has compressed sign bit 0 — matching what
// montgomeryToEdwards recovers from the corresponding X25519 public key.
func calculateKeyPair(secret []byte) (*edwards25519.Scalar, *edwards25519.Point, error) {
	if len(secret) != 32 {
		return nil, nil, errors.New("xcrypto: xeddsa secret must be 32 bytes")
	}
	k, err := new(edwards25519.Scalar).SetBytesWithClamping(secret)
	if err != nil {
		return nil, nil, err
	}
	e := new(edwards25519.Point).ScalarBaseMult(k)
	eBytes := e.Bytes()

	a := k
	if eBytes[31]&0x80 != 0 {
		a = new(edwards25519.Scalar).Negate(k)
	}
	A := new(edwards25519.Point).ScalarBaseMult(a)
	return a, A, nil
}

// hashScalar reduces a BLAKE2b-64 digest of parts into an Edwards
// scalar, the substitute for SHA-512-then-reduce in standard EdDSA.
func hashScalar(parts ...[]byte) (*edwards25519.Scalar, error) {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	digest, err := Hash(buf.Bytes(), signSeedLen, nil)
	if err != nil {
		return nil, err
	}
	return new(edwards25519.Scalar).SetUniformBytes(digest)
}

// SignX produces a 64-byte XEdDSA signature R∥S over message using the
// raw X25519 secret scalar. random must be 64 bytes of fresh entropy
// (the signer-side nonce input); callers typically draw it from
// RandomBytes(64).
func SignX(secret, message, random []byte) ([]byte, error) {
	if len(random) != signSeedLen {
		return nil, errors.New("xcrypto: xeddsa signing needs 64 bytes of randomness")
	}
	a, A, err := calculateKeyPair(secret)
	if err != nil {
		return nil, err
	}
	aBytes := a.Bytes()
	AB := A.Bytes()

	r, err := hashScalar(aBytes, message, random)
	if err != nil {
		return nil, err
	}
	R := new(edwards25519.Point).ScalarBaseMult(r)
	RB := R.Bytes()

	h, err := hashScalar(RB, AB, message)
	if err != nil {
		return nil, err
	}
	s := new(edwards25519.Scalar).MultiplyAdd(h, a, r)

	sig := make([]byte, 0, 64)
	sig = append(sig, RB...)
	sig = append(sig, s.Bytes()...)
	return sig, nil
}

// VerifyX checks a 64-byte XEdDSA signature against a raw X25519
// public key and message.
func VerifyX(pub, message, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	A, err := montgomeryToEdwards(pub)
	if err != nil {
		return false
	}
	RBytes := sig[:32]
	sBytes := sig[32:64]

	s, err := new(edwards25519.Scalar).SetCanonicalBytes(sBytes)
	if err != nil {
		return false
	}
	R := new(edwards25519.Point)
	if _, err := R.SetBytes(RBytes); err != nil {
		return false
	}
	AB := A.Bytes()

	h, err := hashScalar(RBytes, AB, message)
	if err != nil {
		return false
	}

	negA := new(edwards25519.Point).Negate(A)
	check := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(h, negA, s)
	return bytes.Equal(check.Bytes(), RBytes)
}
