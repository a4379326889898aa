package attest

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolsettle/core"
)

// Registry is the state the verifier consults.
type Registry interface {
	GetTrustedServer(publicKey string) (*core.TrustedServer, error)
	IsResultProcessed(hash string) (bool, error)
}

// Verifier runs the result verification steps. It never mutates state;
// recording the hash as processed is the caller's job, in the same atomic
// transaction as finalization.
type Verifier struct {
	reg Registry
}

// NewVerifier creates a Verifier reading from reg.
func NewVerifier(reg Registry) *Verifier {
	return &Verifier{reg: reg}
}

// Verify checks, in order: the attestor is trusted and enabled, the hash
// matches the submitted fields, the signature is valid, the hash has not
// been settled before, and the score is within the module's bounds. A nil
// module means no bounds. Score bounds run last so unauthenticated callers
// learn nothing about valid ranges.
func (v *Verifier) Verify(sub *Submission, module *core.GameModule) error {
	keyHex := sub.PublicKey.Hex()
	srv, err := v.reg.GetTrustedServer(keyHex)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("attestor %s not trusted: %w", keyHex, core.ErrUnauthorized)
	}
	if err != nil {
		return fmt.Errorf("load trusted server: %w", err)
	}
	if !srv.Enabled {
		return fmt.Errorf("attestor %s disabled: %w", keyHex, core.ErrUnauthorized)
	}

	want, err := sub.Result.Digest()
	if err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrInvalidParams)
	}
	if want != sub.Hash {
		return fmt.Errorf("result hash does not match payload: %w", core.ErrInvalidSignature)
	}
	if !sub.Attestation.Verify() {
		return fmt.Errorf("ecdsa verify failed: %w", core.ErrInvalidSignature)
	}

	seen, err := v.reg.IsResultProcessed(sub.Hash.Hex())
	if err != nil {
		return fmt.Errorf("replay lookup: %w", err)
	}
	if seen {
		return fmt.Errorf("result %s already settled: %w", sub.Hash.Hex(), core.ErrReplayDetected)
	}

	if module != nil && !module.ScoreInRange(sub.Score) {
		return fmt.Errorf("score %d outside [%d, %d] for %s: %w",
			sub.Score, module.MinScore, module.MaxScore, module.ID, core.ErrInvalidParams)
	}
	return nil
}
