package core

import (
	"encoding/json"
	"time"

	"github.com/tolelom/tolsettle/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height      int64  `json:"height"`
	PrevHash    string `json:"prev_hash"`
	StateRoot   string `json:"state_root"`   // hash of state after executing this block
	TxRoot      string `json:"tx_root"`      // hash of all transaction IDs
	ReceiptRoot string `json:"receipt_root"` // hash of receipt status codes
	Timestamp   int64  `json:"timestamp"`
	Proposer    string `json:"proposer"` // sequencer's pubkey hex
}

// Block is a collection of transactions with a signed header. Receipts are
// carried alongside but are not covered by the hash; ReceiptRoot is.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Receipts     []*Receipt     `json:"receipts,omitempty"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// ComputeReceiptRoot hashes the ordered (tx id, code) pairs so a block commits
// to which transactions failed and why.
func ComputeReceiptRoot(receipts []*Receipt) string {
	if len(receipts) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf []byte
	for _, r := range receipts {
		buf = append(buf, r.TxID...)
		buf = append(buf, ':')
		buf = append(buf, r.Code...)
		buf = append(buf, ';')
	}
	return crypto.Hash(buf)
}

// Seal attaches the executed transactions and their receipts to the block
// and recomputes both roots. Call before signing.
func (b *Block) Seal(txs []*Transaction, receipts []*Receipt) {
	b.Transactions = txs
	b.Receipts = receipts
	b.Header.TxRoot = ComputeTxRoot(txs)
	b.Header.ReceiptRoot = ComputeReceiptRoot(receipts)
}

// NewBlock creates an unsigned block with the given parameters.
func NewBlock(height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
