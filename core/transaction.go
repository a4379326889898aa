package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolsettle/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer           TxType = "transfer"
	TxSetTrustedServer   TxType = "set_trusted_server"
	TxRegisterGameModule TxType = "register_game_module"
	TxSetRelay           TxType = "set_relay"
	TxSetMaintenance     TxType = "set_maintenance"
	TxStartSession       TxType = "start_session"
	TxReportResult       TxType = "report_result"
	TxSetupReward        TxType = "setup_reward"
	TxClaimReward        TxType = "claim_reward"
	TxOpenDispute        TxType = "open_dispute"
	TxResolveDispute     TxType = "resolve_dispute"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves native currency, or a token when TokenContract is set.
type TransferPayload struct {
	To            string `json:"to"`
	Amount        uint64 `json:"amount"`
	TokenContract string `json:"token_contract,omitempty"`
}

// SetTrustedServerPayload adds, updates or disables a result attestor.
type SetTrustedServerPayload struct {
	PublicKey string `json:"public_key"` // compressed secp256k1 key hex
	Enabled   bool   `json:"enabled"`
	Name      string `json:"name"`
}

// RegisterGameModulePayload catalogues a game type. Enabled defaults to true.
type RegisterGameModulePayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	OwnerContract string `json:"owner_contract"`
	MinScore      uint64 `json:"min_score"`
	MaxScore      uint64 `json:"max_score"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

// SetRelayPayload authorizes or revokes a relay account.
type SetRelayPayload struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// SetMaintenancePayload toggles the global kill switch.
type SetMaintenancePayload struct {
	Enabled bool `json:"enabled"`
}

// StartSessionPayload opens a session for Player. The receipt carries the
// allocated session_id.
type StartSessionPayload struct {
	Player       string `json:"player"`
	NFTTokenID   string `json:"nft_token_id,omitempty"`
	GameModuleID string `json:"game_module_id,omitempty"`
}

// ReportResultPayload submits an attested match outcome. Buffers are hex:
// 32-byte hash, 64-byte compact signature, 33-byte compressed public key.
// Meta is optional hex-encoded bytes.
type ReportResultPayload struct {
	SessionID  uint64  `json:"session_id"`
	ResultHash string  `json:"result_hash"`
	Signature  string  `json:"signature"`
	PublicKey  string  `json:"public_key"`
	Score      uint64  `json:"score"`
	ExpGained  uint64  `json:"exp_gained"`
	Kills      *uint64 `json:"kills,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Meta       string  `json:"meta,omitempty"`
}

// SetupRewardPayload escrows a reward for a settled session.
type SetupRewardPayload struct {
	SessionID     uint64 `json:"session_id"`
	TokenContract string `json:"token_contract,omitempty"`
	Amount        uint64 `json:"amount"`
}

// ClaimRewardPayload pays out an escrowed reward to the session player.
type ClaimRewardPayload struct {
	SessionID uint64 `json:"session_id"`
}

// OpenDisputePayload challenges a finalized session.
type OpenDisputePayload struct {
	SessionID uint64 `json:"session_id"`
	Reason    []byte `json:"reason"`
}

// ResolveDisputePayload settles an open dispute.
type ResolveDisputePayload struct {
	SessionID uint64 `json:"session_id"`
	Upheld    bool   `json:"upheld"`
}
