// Package attest implements the result attestation scheme: canonical
// payload encoding, SHA-256 hashing and compact secp256k1 signatures, plus
// the on-chain verification steps run before a session is finalized.
package attest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
)

// Result is the logical match outcome a game server attests to.
type Result struct {
	SessionID uint64
	Player    string
	GameID    string
	Score     uint64
	ExpGained uint64
	Kills     *uint64
	Timestamp int64
	Meta      []byte
}

// Canonical returns the byte-exact encoding of r: a compact JSON object whose
// keys are sorted lexicographically. kills is omitted when absent; metadata is
// the hex encoding of Meta ("" when absent). Characters such as <, > and & are
// written unescaped, matching a plain JSON serializer in any language.
func (r Result) Canonical() ([]byte, error) {
	// encoding/json writes map keys in sorted order.
	fields := map[string]any{
		"expGained": r.ExpGained,
		"gameId":    r.GameID,
		"metadata":  hex.EncodeToString(r.Meta),
		"player":    r.Player,
		"score":     r.Score,
		"sessionId": r.SessionID,
		"timestamp": r.Timestamp,
	}
	if r.Kills != nil {
		fields["kills"] = *r.Kills
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Digest returns SHA-256 of the canonical payload.
func (r Result) Digest() (crypto.Digest, error) {
	data, err := r.Canonical()
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("canonical payload: %w", err)
	}
	return crypto.Sum256(data), nil
}

// Attestation binds a result hash to the attestor that signed it.
type Attestation struct {
	Hash      crypto.Digest
	Signature crypto.CompactSignature
	PublicKey crypto.CompressedPubKey
}

// Verify reports whether the signature is valid for the hash.
func (a Attestation) Verify() bool {
	return crypto.VerifyDigest(a.PublicKey, a.Hash, a.Signature)
}

// Submission is a decoded report_result payload.
type Submission struct {
	Result
	Attestation
}

// DecodeSubmission parses the hex buffers of p against the session the result
// is reported for. Malformed buffers fail with ErrInvalidParams.
func DecodeSubmission(p *core.ReportResultPayload, sess *core.Session) (*Submission, error) {
	hash, err := crypto.DigestFromHex(p.ResultHash)
	if err != nil {
		return nil, fmt.Errorf("result_hash: %v: %w", err, core.ErrInvalidParams)
	}
	sig, err := crypto.SignatureFromHex(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature: %v: %w", err, core.ErrInvalidParams)
	}
	pub, err := crypto.CompressedPubKeyFromHex(p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("public_key: %v: %w", err, core.ErrInvalidParams)
	}
	var meta []byte
	if p.Meta != "" {
		if meta, err = hex.DecodeString(p.Meta); err != nil {
			return nil, fmt.Errorf("meta: %v: %w", err, core.ErrInvalidParams)
		}
	}
	return &Submission{
		Result: Result{
			SessionID: sess.ID,
			Player:    sess.Player,
			GameID:    sess.GameModuleID,
			Score:     p.Score,
			ExpGained: p.ExpGained,
			Kills:     p.Kills,
			Timestamp: p.Timestamp,
			Meta:      meta,
		},
		Attestation: Attestation{Hash: hash, Signature: sig, PublicKey: pub},
	}, nil
}
