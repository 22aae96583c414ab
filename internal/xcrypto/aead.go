package xcrypto

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// AEADParams bundles a seal/open call's inputs, matching the shape of
// the original Xi::AEADOptions struct (text/ad/tag/tagLength) rather
// than a Go-idiomatic Seal(dst,...)/Open(dst,...) pair, because the
// construction is hand-rolled (not backed by a stdlib cipher.AEAD) and
// every caller in this module needs the intermediate ciphertext and
// tag as separate values anyway (header-trick bit forcing happens
// between sealing and framing).
type AEADParams struct {
	Key     []byte // 32 bytes
	Nonce   uint64
	AD      []byte
	TagLen  int // 8 or 16
	Payload []byte
}

// ietfNonce builds the 12-byte ChaCha20 IETF nonce (0,0,0,0, LE64(nonce))
// spec.md §4.2 specifies.
func ietfNonce(nonce uint64) [12]byte {
	var out [12]byte
	binary.LittleEndian.PutUint64(out[4:], nonce)
	return out
}

// streamXor runs IETF ChaCha20 over text starting at the given block
// counter, matching Xi::streamXor(key, nonce, text, counter).
func streamXor(key []byte, nonce uint64, text []byte, counter uint32) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("xcrypto: chacha20 key must be 32 bytes")
	}
	n := ietfNonce(nonce)
	c, err := chacha20.NewUnauthenticatedCipher(key, n[:])
	if err != nil {
		return nil, err
	}
	c.SetCounter(counter)
	out := make([]byte, len(text))
	c.XORKeyStream(out, text)
	return out, nil
}

// polyKey derives the one-time Poly1305 key at counter 0, matching
// Xi::createPoly1305Key.
func polyKey(key []byte, nonce uint64) ([]byte, error) {
	return streamXor(key, nonce, make([]byte, 32), 0)
}

func pad16(n int) int {
	return (16 - (n % 16)) % 16
}

// macInput builds AD ∥ zeros_pad16(AD) ∥ CT ∥ zeros_pad16(CT) ∥
// LE64(|AD|) ∥ LE64(|CT|), the exact byte layout spec.md §4.2 hand
// specifies (grounded on Xi::aeadSeal/aeadOpen's dataToAuth construction).
func macInput(ad, ct []byte) []byte {
	out := make([]byte, 0, len(ad)+pad16(len(ad))+len(ct)+pad16(len(ct))+16)
	out = append(out, ad...)
	out = append(out, make([]byte, pad16(len(ad)))...)
	out = append(out, ct...)
	out = append(out, make([]byte, pad16(len(ct)))...)
	var lens [16]byte
	binary.LittleEndian.PutUint64(lens[0:8], uint64(len(ad)))
	binary.LittleEndian.PutUint64(lens[8:16], uint64(len(ct)))
	return append(out, lens[:]...)
}

func validateTagLen(tagLen int) error {
	if tagLen != 8 && tagLen != 16 {
		return errors.New("xcrypto: tagLen must be 8 or 16")
	}
	return nil
}

// AEADSeal encrypts p.Payload under p.Key/p.Nonce, authenticating
// p.AD, and returns the ciphertext (same length as the plaintext) and
// a tag truncated to p.TagLen bytes.
func AEADSeal(p AEADParams) (ciphertext, tag []byte, err error) {
	if len(p.Key) != 32 {
		return nil, nil, errors.New("xcrypto: seal requires a 32-byte key")
	}
	if err := validateTagLen(p.TagLen); err != nil {
		return nil, nil, err
	}

	ciphertext, err = streamXor(p.Key, p.Nonce, p.Payload, 1)
	if err != nil {
		return nil, nil, err
	}

	oneTimeKey, err := polyKey(p.Key, p.Nonce)
	if err != nil {
		return nil, nil, err
	}

	var fullTag [16]byte
	poly1305.Sum(&fullTag, macInput(p.AD, ciphertext), (*[32]byte)(oneTimeKey))
	return ciphertext, fullTag[:p.TagLen], nil
}

// AEADOpen verifies tag against p.Payload (interpreted as ciphertext)
// and p.AD, returning the decrypted plaintext only on success.
func AEADOpen(p AEADParams, tag []byte) (plaintext []byte, ok bool, err error) {
	if len(p.Key) != 32 {
		return nil, false, errors.New("xcrypto: open requires a 32-byte key")
	}
	if err := validateTagLen(p.TagLen); err != nil {
		return nil, false, err
	}

	oneTimeKey, err := polyKey(p.Key, p.Nonce)
	if err != nil {
		return nil, false, err
	}

	var fullTag [16]byte
	poly1305.Sum(&fullTag, macInput(p.AD, p.Payload), (*[32]byte)(oneTimeKey))

	if !ConstantTimeEquals(fullTag[:p.TagLen], tag, p.TagLen) {
		return nil, false, nil
	}

	plaintext, err = streamXor(p.Key, p.Nonce, p.Payload, 1)
	if err != nil {
		return nil, false, err
	}
	return plaintext, true, nil
}
