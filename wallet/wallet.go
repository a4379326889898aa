package wallet

import (
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
)

// Wallet holds an account key pair bound to one chain and provides
// transaction-building helpers for the settlement calls.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// ChainID returns the chain the wallet signs for.
func (w *Wallet) ChainID() string {
	return w.chainID
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed native transfer.
func (w *Wallet) Transfer(to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}

// StartSession opens a session for player, which may be the wallet itself or
// a player the wallet relays for.
func (w *Wallet) StartSession(player, nftTokenID, gameModuleID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxStartSession, nonce, fee, core.StartSessionPayload{
		Player:       player,
		NFTTokenID:   nftTokenID,
		GameModuleID: gameModuleID,
	})
}

// ReportResult submits an attested result payload as produced by attest.Payload.
func (w *Wallet) ReportResult(p core.ReportResultPayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxReportResult, nonce, fee, p)
}

// ClaimReward claims the escrowed reward of a session.
func (w *Wallet) ClaimReward(sessionID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaimReward, nonce, fee, core.ClaimRewardPayload{SessionID: sessionID})
}

// OpenDispute challenges a finalized session.
func (w *Wallet) OpenDispute(sessionID uint64, reason []byte, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxOpenDispute, nonce, fee, core.OpenDisputePayload{SessionID: sessionID, Reason: reason})
}
