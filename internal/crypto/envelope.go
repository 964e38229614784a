package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// KeySize is the derived symmetric key length: 128 bits (spec.md §4.1).
const KeySize = 16

// DeriveKey takes the first 16 bytes of the base64-decoded shared secret
// digest, exactly as spec.md §4.1 specifies ("The 128-bit key is the
// first 16 bytes of the base64-decoded shared secret digest").
func DeriveKey(secretDigestB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(secretDigestB64)
	if err != nil {
		return nil, fmt.Errorf("decoding secret digest: %w", err)
	}
	if len(raw) < KeySize {
		return nil, fmt.Errorf("secret digest too short: need %d bytes, got %d", KeySize, len(raw))
	}
	return raw[:KeySize], nil
}

// NewNonce generates a fresh random EAX nonce.
func NewNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return n, nil
}

// EncodeEnvelope encrypts plaintext under key with a fresh nonce and
// returns the base64 body and the base64 Nonce/Tag header values the HTTP
// layer attaches (spec.md §6).
func EncodeEnvelope(key, plaintext []byte) (body, nonceB64, tagB64 string, err error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", "", "", err
	}
	sealed, err := Seal(key, nonce, plaintext)
	if err != nil {
		return "", "", "", err
	}
	return base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		base64.StdEncoding.EncodeToString(sealed.Nonce),
		base64.StdEncoding.EncodeToString(sealed.Tag),
		nil
}

// DecodeEnvelope reverses EncodeEnvelope: base64-decodes body/nonce/tag,
// verifies the tag, and returns the plaintext.
func DecodeEnvelope(key []byte, bodyB64, nonceB64, tagB64 string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(bodyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(tagB64)
	if err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	return Open(key, nonce, ciphertext, tag)
}
