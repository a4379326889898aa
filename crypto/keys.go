package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PrivateKey wraps ed25519 private key bytes. Account keys sign transactions;
// result attestations use the secp256k1 keys in secp256k1.go.
type PrivateKey []byte

// PublicKey wraps ed25519 public key bytes.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Address returns a 40-char hex address derived from the public key.
// It takes the first 20 bytes of SHA-256(pubkey).
func (pub PublicKey) Address() string {
	d := Sum256(pub)
	return hex.EncodeToString(d[:20])
}

// Hex returns the full 64-char hex-encoded public key. Accounts are keyed by
// this value throughout the state.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// Public derives the ed25519 public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// PubKeyFromHex decodes a hex-encoded account public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b := make([]byte, ed25519.PublicKeySize)
	if err := decodeFixed(s, b); err != nil {
		return nil, fmt.Errorf("invalid pubkey: %w", err)
	}
	return PublicKey(b), nil
}

// PrivKeyFromBytes validates the length of raw private key bytes.
func PrivKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("privkey must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}

// decodeFixed decodes hex s into dst, requiring an exact length match.
func decodeFixed(s string, dst []byte) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("want %d hex chars, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	return nil
}
