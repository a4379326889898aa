package economy

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

// handleTransfer moves native currency, or a token balance when a contract
// is named. Rewards are funded from these balances.
func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := vm.Decode(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0: %w", core.ErrInvalidParams)
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("transfer to: %v: %w", err, core.ErrInvalidParams)
	}
	if err := vm.Transfer(ctx.State, p.TokenContract, ctx.Caller(), p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":           ctx.Caller(),
		"to":             p.To,
		"amount":         p.Amount,
		"token_contract": p.TokenContract,
	})
	return nil
}
