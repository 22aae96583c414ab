package xcrypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
)

// KeyPair is a raw 32-byte X25519 public/secret pair, grounded on the
// original source's Xi::generateKeyPair() / Xi::KeyPair.
type KeyPair struct {
	Public []byte
	Secret []byte
}

// GenerateKeyPair produces a fresh X25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := x25519Curve.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: priv.PublicKey().Bytes(), Secret: priv.Bytes()}, nil
}

// SharedKey computes the X25519 shared secret, rejecting non-32-byte
// inputs as spec.md §4.2 requires.
func SharedKey(secret, peerPublic []byte) ([]byte, error) {
	if len(secret) != 32 || len(peerPublic) != 32 {
		return nil, errors.New("xcrypto: shared key requires 32-byte inputs")
	}
	priv, err := x25519Curve.NewPrivateKey(secret)
	if err != nil {
		return nil, err
	}
	pub, err := x25519PublicKey(peerPublic)
	if err != nil {
		return nil, err
	}
	return priv.ECDH(pub)
}

// Ephemeral wraps a single-use X25519 keypair that zeroizes its secret
// material on Destroy, mirroring the teacher's internal/crypto.Ephemeral
// (same defensive shape: redacted String()/GoString(), destroyed flag
// checked by every accessor).
type Ephemeral struct {
	priv      *ecdh.PrivateKey
	secBytes  []byte
	pubBytes  []byte
	destroyed bool
}

func (e *Ephemeral) String() string   { return "Ephemeral{REDACTED}" }
func (e *Ephemeral) GoString() string { return "xcrypto.Ephemeral{REDACTED}" }

// GenerateEphemeral creates a new single-use X25519 keypair.
func GenerateEphemeral() (*Ephemeral, error) {
	priv, err := x25519Curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	sec := append([]byte(nil), priv.Bytes()...)
	pub := append([]byte(nil), priv.PublicKey().Bytes()...)
	return &Ephemeral{priv: priv, secBytes: sec, pubBytes: pub}, nil
}

// Public returns a copy of the ephemeral's public key.
func (e *Ephemeral) Public() ([]byte, error) {
	if e == nil || e.destroyed {
		return nil, errors.New("xcrypto: ephemeral destroyed")
	}
	out := make([]byte, len(e.pubBytes))
	copy(out, e.pubBytes)
	return out, nil
}

// Shared computes the X25519 agreement between this ephemeral's secret
// and a peer's public key.
func (e *Ephemeral) Shared(peerPub []byte) ([]byte, error) {
	if e == nil || e.destroyed {
		return nil, errors.New("xcrypto: ephemeral destroyed")
	}
	if len(peerPub) == 0 {
		return nil, errors.New("xcrypto: empty peer key")
	}
	pub, err := x25519PublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	return e.priv.ECDH(pub)
}

// Destroy zeroizes the ephemeral's key material in place.
func (e *Ephemeral) Destroy() {
	if e == nil || e.destroyed {
		return
	}
	for i := range e.secBytes {
		e.secBytes[i] = 0
	}
	for i := range e.pubBytes {
		e.pubBytes[i] = 0
	}
	e.priv = nil
	e.destroyed = true
}
