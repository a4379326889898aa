package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// CompactSignatureSize is the length of an [R || S] secp256k1 signature.
	CompactSignatureSize = 64
	// CompressedPubKeySize is the length of a compressed secp256k1 public key.
	CompressedPubKeySize = 33
)

// CompactSignature is a 64-byte [R || S] secp256k1 ECDSA signature.
type CompactSignature [CompactSignatureSize]byte

// CompressedPubKey is a 33-byte compressed secp256k1 public key.
type CompressedPubKey [CompressedPubKeySize]byte

// Hex returns the lowercase hex encoding of the signature.
func (s CompactSignature) Hex() string { return hex.EncodeToString(s[:]) }

// Hex returns the lowercase hex encoding of the public key.
func (k CompressedPubKey) Hex() string { return hex.EncodeToString(k[:]) }

// SignatureFromHex decodes a 128-char hex string into a CompactSignature.
func SignatureFromHex(s string) (CompactSignature, error) {
	var sig CompactSignature
	if err := decodeFixed(s, sig[:]); err != nil {
		return CompactSignature{}, fmt.Errorf("invalid signature: %w", err)
	}
	return sig, nil
}

// CompressedPubKeyFromHex decodes a 66-char hex string and checks that it
// names a point on the curve.
func CompressedPubKeyFromHex(s string) (CompressedPubKey, error) {
	var k CompressedPubKey
	if err := decodeFixed(s, k[:]); err != nil {
		return CompressedPubKey{}, fmt.Errorf("invalid public key: %w", err)
	}
	if _, err := ethcrypto.DecompressPubkey(k[:]); err != nil {
		return CompressedPubKey{}, fmt.Errorf("invalid public key: %w", err)
	}
	return k, nil
}

// CompressPubKey returns the compressed form of pub.
func CompressPubKey(pub *ecdsa.PublicKey) CompressedPubKey {
	var k CompressedPubKey
	copy(k[:], ethcrypto.CompressPubkey(pub))
	return k
}

// GenerateSecp256k1 creates a new secp256k1 private key.
func GenerateSecp256k1() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// Secp256k1FromBytes parses a raw 32-byte secp256k1 scalar.
func Secp256k1FromBytes(b []byte) (*ecdsa.PrivateKey, error) {
	return ethcrypto.ToECDSA(b)
}

// Secp256k1Bytes returns the raw 32-byte scalar of priv.
func Secp256k1Bytes(priv *ecdsa.PrivateKey) []byte {
	return ethcrypto.FromECDSA(priv)
}

// SignDigest produces a low-S compact signature over digest.
func SignDigest(priv *ecdsa.PrivateKey, digest Digest) (CompactSignature, error) {
	raw, err := ethcrypto.Sign(digest[:], priv)
	if err != nil {
		return CompactSignature{}, err
	}
	var sig CompactSignature
	copy(sig[:], raw[:CompactSignatureSize]) // drop the recovery id
	return sig, nil
}

// VerifyDigest reports whether sig is a valid low-S signature of digest by pub.
func VerifyDigest(pub CompressedPubKey, digest Digest, sig CompactSignature) bool {
	return ethcrypto.VerifySignature(pub[:], digest[:], sig[:])
}
