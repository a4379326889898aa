package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/internal/testutil"
	"github.com/tolelom/tolsettle/vm"
	"github.com/tolelom/tolsettle/wallet"

	_ "github.com/tolelom/tolsettle/vm/modules/economy"
)

const chainID = "exec-test"

func setup(t *testing.T) (core.State, *vm.Executor, *wallet.Wallet) {
	t.Helper()
	state := testutil.NewStateDB()
	exec := vm.NewExecutor(state, events.NewEmitter(), chainID)
	w, err := wallet.Generate(chainID)
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1000}))
	return state, exec, w
}

// TestTokenTransfer verifies that the economy transfer handler moves balances.
func TestTokenTransfer(t *testing.T) {
	state, exec, sender := setup(t)
	receiver, err := wallet.Generate(chainID)
	require.NoError(t, err)

	tx, err := sender.Transfer(receiver.PubKey(), 300, 0, 5)
	require.NoError(t, err)
	block := core.NewBlock(1, "0000", sender.PubKey(), []*core.Transaction{tx})
	receipt, err := exec.ExecuteTx(block, tx)
	require.NoError(t, err)
	require.Equal(t, core.ReceiptOK, receipt.Status)

	senderAcc, err := state.GetAccount(sender.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(695), senderAcc.Balance)
	receiverAcc, err := state.GetAccount(receiver.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(300), receiverAcc.Balance)
}

// TestFailedHandlerKeepsFee verifies that a failing handler is rolled back
// while its fee and nonce stay consumed.
func TestFailedHandlerKeepsFee(t *testing.T) {
	state, exec, sender := setup(t)
	receiver, err := wallet.Generate(chainID)
	require.NoError(t, err)

	var failed []events.Event
	emitter := events.NewEmitter()
	emitter.Subscribe(events.EventTxFailed, func(ev events.Event) { failed = append(failed, ev) })
	exec = vm.NewExecutor(state, emitter, chainID)

	tx, err := sender.Transfer(receiver.PubKey(), 5000, 0, 10)
	require.NoError(t, err)
	block := core.NewBlock(1, "0000", sender.PubKey(), nil)
	receipt, err := exec.ExecuteTx(block, tx)
	require.NoError(t, err)
	require.Equal(t, core.ReceiptFailed, receipt.Status)
	require.Equal(t, core.CodeInsufficientBalance, receipt.Code)
	require.ErrorIs(t, receipt.Err(), core.ErrInsufficientBalance)
	require.Len(t, failed, 1)

	acc, err := state.GetAccount(sender.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(990), acc.Balance)
	require.Equal(t, uint64(1), acc.Nonce)
}

// TestNonceReplay verifies that replaying a transaction with the same nonce is dropped.
func TestNonceReplay(t *testing.T) {
	_, exec, w := setup(t)
	receiver, err := wallet.Generate(chainID)
	require.NoError(t, err)

	tx, err := w.Transfer(receiver.PubKey(), 10, 0, 0)
	require.NoError(t, err)
	block := core.NewBlock(1, "0000", w.PubKey(), nil)
	_, err = exec.ExecuteTx(block, tx)
	require.NoError(t, err)
	_, err = exec.ExecuteTx(block, tx)
	require.Error(t, err)
}

func TestChainIDMismatchDropped(t *testing.T) {
	state, exec, _ := setup(t)
	other, err := wallet.Generate("other-chain")
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: other.PubKey(), Balance: 100}))

	tx, err := other.Transfer(other.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	_, err = exec.ExecuteTx(core.NewBlock(1, "0000", other.PubKey(), nil), tx)
	require.ErrorContains(t, err, "chain id mismatch")
}

func TestExecuteBlockSeparatesDropped(t *testing.T) {
	_, exec, w := setup(t)
	receiver, err := wallet.Generate(chainID)
	require.NoError(t, err)

	good, err := w.Transfer(receiver.PubKey(), 10, 0, 0)
	require.NoError(t, err)
	failing, err := w.Transfer(receiver.PubKey(), 1_000_000, 1, 0)
	require.NoError(t, err)
	badNonce, err := w.Transfer(receiver.PubKey(), 10, 7, 0)
	require.NoError(t, err)
	tampered, err := w.Transfer(receiver.PubKey(), 10, 2, 0)
	require.NoError(t, err)
	tampered.Fee = 99

	block := core.NewBlock(1, "0000", w.PubKey(), nil)
	res := exec.ExecuteBlock(block, []*core.Transaction{good, failing, badNonce, tampered})
	require.Len(t, res.Included, 2)
	require.Len(t, res.Receipts, 2)
	require.Equal(t, core.ReceiptOK, res.Receipts[0].Status)
	require.Equal(t, core.ReceiptFailed, res.Receipts[1].Status)
	require.Contains(t, res.Dropped, badNonce.ID)
	require.Contains(t, res.Dropped, tampered.ID)

	// ExecuteBlock leaves delivery to the caller.
	require.Len(t, res.Events, 3)
	require.Equal(t, events.EventTokenTransfer, res.Events[0].Type)
	require.Equal(t, events.EventTxExecuted, res.Events[1].Type)
	require.Equal(t, events.EventTxFailed, res.Events[2].Type)
}

func TestUnknownTxTypeFails(t *testing.T) {
	_, exec, w := setup(t)
	tx, err := w.NewTx(core.TxType("mint_gold"), 0, 0, map[string]any{})
	require.NoError(t, err)
	receipt, err := exec.ExecuteTx(core.NewBlock(1, "0000", w.PubKey(), nil), tx)
	require.NoError(t, err)
	require.Equal(t, core.CodeInvalidParams, receipt.Code)
	require.False(t, vm.Registered("mint_gold"))
	require.True(t, vm.Registered(core.TxTransfer))
}
