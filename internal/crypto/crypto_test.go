package crypto_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/crypto"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte("fedcba9876543210")
	plaintext := []byte(`{"type":"PING","src":"agent-a"}`)

	sealed, err := crypto.Seal(key, nonce, plaintext)
	require.NoError(t, err)
	assert.Len(t, sealed.Tag, crypto.TagSize)
	assert.NotEqual(t, plaintext, sealed.Ciphertext)

	opened, err := crypto.Open(key, sealed.Nonce, sealed.Ciphertext, sealed.Tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte("fedcba9876543210")
	sealed, err := crypto.Seal(key, nonce, []byte("hello mesh"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed.Ciphertext...)
	tampered[0] ^= 0xFF

	_, err = crypto.Open(key, sealed.Nonce, tampered, sealed.Tag)
	assert.ErrorIs(t, err, crypto.ErrAuthFailed)
}

func TestOpenRejectsTamperedTag(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte("fedcba9876543210")
	sealed, err := crypto.Seal(key, nonce, []byte("hello mesh"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed.Tag...)
	tampered[0] ^= 0xFF

	_, err = crypto.Open(key, sealed.Nonce, sealed.Ciphertext, tampered)
	assert.ErrorIs(t, err, crypto.ErrAuthFailed)
}

func TestDifferentNoncesProduceDifferentCiphertext(t *testing.T) {
	key := []byte("0123456789abcdef")
	plaintext := []byte("same plaintext, different nonce")

	a, err := crypto.Seal(key, []byte("nonce-one-16byte"), plaintext)
	require.NoError(t, err)
	b, err := crypto.Seal(key, []byte("nonce-two-16byte"), plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
	assert.NotEqual(t, a.Tag, b.Tag)
}

// TestDeriveKeyUsesFirst16Bytes pins spec.md §4.1's exact key derivation:
// the first 16 bytes of the base64-decoded secret digest.
func TestDeriveKeyUsesFirst16Bytes(t *testing.T) {
	// base64("0123456789abcdefEXTRA") decodes to 21 bytes; only the first
	// 16 should be used as the key.
	digest := "MDEyMzQ1Njc4OWFiY2RlZkVYVFJB"
	key, err := crypto.DeriveKey(digest)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), key)
}

func TestDeriveKeyRejectsShortDigest(t *testing.T) {
	_, err := crypto.DeriveKey("c2hvcnQ=") // "short", 5 bytes
	assert.Error(t, err)
}

// TestEnvelopeRoundTrip exercises EncodeEnvelope/DecodeEnvelope together,
// matching the HTTP front's actual usage.
func TestEnvelopeRoundTrip(t *testing.T) {
	key, err := crypto.DeriveKey("MDEyMzQ1Njc4OWFiY2RlZg==") // b64("0123456789abcdef")
	require.NoError(t, err)
	plaintext := []byte(`{"type":"ACKNOWLEDGEMENT"}`)

	body, nonceB64, tagB64, err := crypto.EncodeEnvelope(key, plaintext)
	require.NoError(t, err)

	decoded, err := crypto.DecodeEnvelope(key, body, nonceB64, tagB64)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestDecodeEnvelopeRejectsBadBase64(t *testing.T) {
	key := make([]byte, 16)
	_, err := crypto.DecodeEnvelope(key, "not-valid-base64!!!", "also-bad", "still-bad")
	assert.Error(t, err)
}

// TestSealWithRFC4493KeyMaterial exercises the subkey-derivation and
// padding paths (cmacSum is unexported, so this runs it indirectly via
// Seal/Open) against the key from the RFC 4493 §4 test vectors, across
// an empty, a partial-block, and a multi-block message.
func TestSealWithRFC4493KeyMaterial(t *testing.T) {
	key, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)
	nonce := make([]byte, crypto.NonceSize)

	for _, msg := range [][]byte{{}, []byte("short"), make([]byte, 33)} {
		sealed, err := crypto.Seal(key, nonce, msg)
		require.NoError(t, err)
		assert.Len(t, sealed.Tag, crypto.TagSize)

		opened, err := crypto.Open(key, nonce, sealed.Ciphertext, sealed.Tag)
		require.NoError(t, err)
		assert.Equal(t, msg, opened)
	}
}
