package attest

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
)

// Signer is a game server's attestation key. It holds no other state, so any
// number of goroutines may sign concurrently.
type Signer struct {
	priv *ecdsa.PrivateKey
	pub  crypto.CompressedPubKey
}

// NewSigner wraps an existing secp256k1 key.
func NewSigner(priv *ecdsa.PrivateKey) *Signer {
	return &Signer{priv: priv, pub: crypto.CompressPubKey(&priv.PublicKey)}
}

// GenerateSigner creates a Signer with a fresh key.
func GenerateSigner() (*Signer, error) {
	priv, err := crypto.GenerateSecp256k1()
	if err != nil {
		return nil, err
	}
	return NewSigner(priv), nil
}

// SignerFromBytes loads a Signer from a raw 32-byte scalar.
func SignerFromBytes(b []byte) (*Signer, error) {
	priv, err := crypto.Secp256k1FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("attestor key: %w", err)
	}
	return NewSigner(priv), nil
}

// PublicKey returns the compressed public key to register as trusted.
func (s *Signer) PublicKey() crypto.CompressedPubKey { return s.pub }

// Bytes returns the raw private scalar (handle with care).
func (s *Signer) Bytes() []byte { return crypto.Secp256k1Bytes(s.priv) }

// Sign canonicalizes, hashes and signs r.
func (s *Signer) Sign(r Result) (Attestation, error) {
	hash, err := r.Digest()
	if err != nil {
		return Attestation{}, err
	}
	sig, err := crypto.SignDigest(s.priv, hash)
	if err != nil {
		return Attestation{}, fmt.Errorf("sign result: %w", err)
	}
	return Attestation{Hash: hash, Signature: sig, PublicKey: s.pub}, nil
}

// Payload renders r and its attestation as a report_result payload.
func Payload(r Result, a Attestation) core.ReportResultPayload {
	p := core.ReportResultPayload{
		SessionID:  r.SessionID,
		ResultHash: a.Hash.Hex(),
		Signature:  a.Signature.Hex(),
		PublicKey:  a.PublicKey.Hex(),
		Score:      r.Score,
		ExpGained:  r.ExpGained,
		Kills:      r.Kills,
		Timestamp:  r.Timestamp,
	}
	if len(r.Meta) > 0 {
		p.Meta = fmt.Sprintf("%x", r.Meta)
	}
	return p
}
