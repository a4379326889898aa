package core

// ReceiptStatus records whether a transaction's handler succeeded.
type ReceiptStatus string

const (
	ReceiptOK     ReceiptStatus = "ok"
	ReceiptFailed ReceiptStatus = "failed"
)

// Receipt is the outcome of an included transaction. A failed receipt means
// the handler's state changes were rolled back; the fee and nonce are still
// consumed.
type Receipt struct {
	TxID        string         `json:"tx_id"`
	Type        TxType         `json:"type"`
	From        string         `json:"from"`
	BlockHeight int64          `json:"block_height"`
	Status      ReceiptStatus  `json:"status"`
	Code        string         `json:"code"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// Err returns the taxonomy error carried by a failed receipt, or nil.
func (r *Receipt) Err() error {
	if r == nil || r.Status == ReceiptOK {
		return nil
	}
	if err := ErrorForCode(r.Code); err != nil {
		return err
	}
	return errUnknownFailure(r.Error)
}

type errUnknownFailure string

func (e errUnknownFailure) Error() string { return string(e) }
