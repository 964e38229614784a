// Package crypto implements the AES-EAX encrypt/decrypt primitive used by
// the HTTP envelope (spec.md §4.1/§6/C2). EAX mode (Bellare/Rogaway/Wagner)
// combines AES-CTR confidentiality with an AES-CMAC authentication tag
// over three domain-separated inputs: the nonce, the associated data, and
// the ciphertext. Associated data is always empty here — spec.md's
// envelope has no authenticated-but-unencrypted header fields.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
)

// TagSize is the EAX authentication tag length in bytes, matching the
// original's pycryptodome default (full 16-byte AES block).
const TagSize = 16

// NonceSize is the EAX nonce length in bytes (spec.md §6: "16-byte random
// nonces are acceptable").
const NonceSize = 16

var ErrAuthFailed = errors.New("eax: authentication tag mismatch")

func omac(block cipher.Block, tagIndex byte, msg []byte) []byte {
	prefix := make([]byte, blockSize)
	prefix[blockSize-1] = tagIndex
	return cmacSum(block, append(prefix, msg...))
}

// SealResult carries the three pieces the HTTP envelope transmits
// separately: ciphertext body, nonce header, tag header.
type SealResult struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// Seal encrypts plaintext under key with a caller-supplied nonce (the
// caller is responsible for nonce uniqueness per key, per spec.md §6).
func Seal(key, nonce, plaintext []byte) (SealResult, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return SealResult{}, err
	}

	n := omac(block, 0, nonce)
	h := omac(block, 1, nil)

	ciphertext := make([]byte, len(plaintext))
	ctr := cipher.NewCTR(block, n)
	ctr.XORKeyStream(ciphertext, plaintext)

	c := omac(block, 2, ciphertext)

	tag := make([]byte, blockSize)
	for i := range tag {
		tag[i] = n[i] ^ h[i] ^ c[i]
	}

	return SealResult{Ciphertext: ciphertext, Nonce: nonce, Tag: tag[:TagSize]}, nil
}

// Open verifies tag and decrypts ciphertext under key/nonce. Tag
// verification happens before any byte of plaintext is returned: a
// mismatch returns ErrAuthFailed and a nil plaintext, matching spec.md
// §4.1's "Verification of the tag is mandatory before any JSON parsing."
func Open(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	n := omac(block, 0, nonce)
	h := omac(block, 1, nil)
	c := omac(block, 2, ciphertext)

	want := make([]byte, blockSize)
	for i := range want {
		want[i] = n[i] ^ h[i] ^ c[i]
	}

	if subtle.ConstantTimeCompare(want[:TagSize], tag) != 1 {
		return nil, ErrAuthFailed
	}

	plaintext := make([]byte, len(ciphertext))
	ctr := cipher.NewCTR(block, n)
	ctr.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
