package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
)

// ErrFutureNonce marks a transaction whose nonce is ahead of its account.
// It may become valid once earlier transactions are included.
var ErrFutureNonce = errors.New("nonce ahead of account")

// Executor applies transactions to the state using the global Handler
// registry. It is the single writer of the state; callers serialise access.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	chainID string
}

// NewExecutor creates an Executor with the given state and event emitter.
// Transactions whose ChainID differs from chainID are rejected.
func NewExecutor(state core.State, emitter *events.Emitter, chainID string) *Executor {
	return &Executor{state: state, emitter: emitter, chainID: chainID}
}

// BlockResult is the outcome of executing a block's transactions. Events
// are not delivered; the caller emits them once the block is stored.
type BlockResult struct {
	Included []*core.Transaction
	Receipts []*core.Receipt
	Dropped  map[string]error
	Events   []events.Event
}

// ExecuteBlock applies txs sequentially against block. Transactions that
// cannot be charged (bad signature, nonce or fee) are skipped and reported
// in Dropped; every other transaction yields a receipt, successful or not.
func (e *Executor) ExecuteBlock(block *core.Block, txs []*core.Transaction) *BlockResult {
	res := &BlockResult{Dropped: make(map[string]error)}
	for _, tx := range txs {
		receipt, evs, err := e.apply(block, tx)
		if err != nil {
			res.Dropped[tx.ID] = err
			continue
		}
		res.Included = append(res.Included, tx)
		res.Receipts = append(res.Receipts, receipt)
		res.Events = append(res.Events, evs...)
	}
	return res
}

// ExecuteTx verifies and executes a single transaction and delivers its
// events immediately. A non-nil error means the transaction was not applied
// at all. Otherwise the returned receipt records the handler outcome; a
// failed handler is rolled back to the state right after the fee and nonce
// were charged.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	receipt, evs, err := e.apply(block, tx)
	if err != nil {
		return nil, err
	}
	if e.emitter != nil {
		e.emitter.EmitAll(evs)
	}
	return receipt, nil
}

// apply runs tx and returns its receipt with the events it raised: the
// handler's own events on success, then the executed or failed event.
func (e *Executor) apply(block *core.Block, tx *core.Transaction) (*core.Receipt, []events.Event, error) {
	if e.chainID != "" && tx.ChainID != e.chainID {
		return nil, nil, fmt.Errorf("chain id mismatch: got %q want %q", tx.ChainID, e.chainID)
	}
	if err := tx.Verify(); err != nil {
		return nil, nil, fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := e.charge(tx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, nil, fmt.Errorf("revert snapshot after charge failure: %w (revert: %v)", err, revertErr)
		}
		return nil, nil, err
	}

	handlerSnap, err := e.state.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}
	ctx, herr := e.newContext(block, tx)
	if herr == nil {
		herr = globalRegistry.Execute(tx.Type, ctx, tx.Payload)
	}

	receipt := &core.Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: block.Header.Height,
		Status:      core.ReceiptOK,
		Code:        core.CodeOK,
	}
	var evs []events.Event
	evType := events.EventTxExecuted
	if herr != nil {
		if revertErr := e.state.RevertToSnapshot(handlerSnap); revertErr != nil {
			return nil, nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", herr, revertErr)
		}
		receipt.Status = core.ReceiptFailed
		receipt.Code = core.Code(herr)
		receipt.Error = herr.Error()
		evType = events.EventTxFailed
	} else {
		receipt.Result = ctx.result
		evs = ctx.emitted
	}

	evs = append(evs, events.Event{
		Type:        evType,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"type":    string(tx.Type),
			"from":    tx.From,
			"code":    receipt.Code,
			"receipt": receipt,
		},
	})
	return receipt, evs, nil
}

// charge deducts the fee and increments the nonce.
func (e *Executor) charge(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if tx.Nonce > acc.Nonce {
		return fmt.Errorf("expected %d got %d: %w", acc.Nonce, tx.Nonce, ErrFutureNonce)
	}
	if tx.Nonce < acc.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	return e.state.SetAccount(acc)
}

func (e *Executor) newContext(block *core.Block, tx *core.Transaction) (*Context, error) {
	params, err := e.state.GetParams()
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	return &Context{
		State:  e.state,
		Block:  block,
		Tx:     tx,
		Params: params,
	}, nil
}
