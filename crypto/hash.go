package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the length of a SHA-256 digest.
const HashSize = sha256.Size

// Digest is a fixed-size SHA-256 digest.
type Digest [HashSize]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Sum256 returns the SHA-256 digest of data.
func Sum256(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	return Sum256(data).Hex()
}

// DigestFromHex decodes a 64-char hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	if err := decodeFixed(s, d[:]); err != nil {
		return Digest{}, err
	}
	return d, nil
}
