package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/internal/testutil"
	"github.com/tolelom/tolsettle/wallet"
)

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate("test-chain")
	require.NoError(t, err)
	return w
}

func TestTransactionSignVerify(t *testing.T) {
	w := newWallet(t)
	tx, err := w.NewTx(core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 100})
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), tx.ID)
	require.NoError(t, tx.Verify())

	tx.Fee = 999
	require.Error(t, tx.Verify())

	tx.Fee = 0
	tx.ChainID = "other"
	require.Error(t, tx.Verify(), "chain id is covered by the signature")

	tx.ChainID = "test-chain"
	tx.From = "zz"
	require.Error(t, tx.Verify())
}

func TestBlockHashAndRoots(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	block := core.NewBlock(1, "0000", pub.Hex(), nil)
	require.Equal(t, core.ComputeTxRoot(nil), block.Header.TxRoot)

	ok := []*core.Receipt{{TxID: "a", Code: core.CodeOK}}
	failed := []*core.Receipt{{TxID: "a", Code: core.CodeReplayDetected}}
	require.NotEqual(t, core.ComputeReceiptRoot(ok), core.ComputeReceiptRoot(failed))

	block.Seal([]*core.Transaction{{ID: "a"}}, failed)
	block.Sign(priv)
	require.Equal(t, block.ComputeHash(), block.Hash)
	require.NoError(t, block.Verify(pub))

	block.Header.ReceiptRoot = core.ComputeReceiptRoot(ok)
	require.NotEqual(t, block.ComputeHash(), block.Hash)
}

func TestMempool(t *testing.T) {
	mp := core.NewMempool()
	w := newWallet(t)

	var ids []string
	for nonce := uint64(0); nonce < 3; nonce++ {
		tx, err := w.Transfer("aa", 1, nonce, 0)
		require.NoError(t, err)
		require.NoError(t, mp.Add(tx))
		ids = append(ids, tx.ID)
	}
	require.Equal(t, 3, mp.Size())

	dup, ok := mp.Get(ids[0])
	require.True(t, ok)
	require.ErrorIs(t, mp.Add(dup), core.ErrTxKnown)

	pending := mp.Pending(2)
	require.Len(t, pending, 2)
	require.Equal(t, ids[:2], []string{pending[0].ID, pending[1].ID})

	mp.Remove(ids[:1])
	require.Equal(t, 2, mp.Size())
	require.Equal(t, ids[1], mp.Pending(10)[0].ID)
}

func TestMempoolNonceOrder(t *testing.T) {
	mp := core.NewMempool()
	a, b := newWallet(t), newWallet(t)

	add := func(w *wallet.Wallet, nonce uint64) string {
		tx, err := w.Transfer("aa", 1, nonce, 0)
		require.NoError(t, err)
		require.NoError(t, mp.Add(tx))
		return tx.ID
	}
	a1 := add(a, 1)
	b0 := add(b, 0)
	a0 := add(a, 0)

	var got []string
	for _, tx := range mp.Pending(10) {
		got = append(got, tx.ID)
	}
	require.Equal(t, []string{a0, a1, b0}, got)
}

func TestMempoolSenderQuota(t *testing.T) {
	mp := core.NewMempool()
	w := newWallet(t)
	var err error
	for nonce := uint64(0); err == nil; nonce++ {
		var tx *core.Transaction
		tx, err = w.Transfer("aa", 1, nonce, 0)
		require.NoError(t, err)
		err = mp.Add(tx)
	}
	require.ErrorIs(t, err, core.ErrMempoolFull)
	require.Equal(t, 256, mp.Size())

	other, err := newWallet(t).Transfer("aa", 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, mp.Add(other))
}

func TestMempoolRejects(t *testing.T) {
	mp := core.NewMempool()
	w := newWallet(t)

	tx, err := w.Transfer("aa", 1, 0, 0)
	require.NoError(t, err)
	tx.ID = "forged"
	require.Error(t, mp.Add(tx))

	tx.Timestamp = time.Now().Add(-2 * time.Hour).UnixNano()
	tx.Sign(w.PrivKey())
	require.Error(t, mp.Add(tx), "expired")

	tx.Timestamp = time.Now().Add(time.Hour).UnixNano()
	tx.Sign(w.PrivKey())
	require.Error(t, mp.Add(tx), "too far in the future")

	tx.Timestamp = time.Now().UnixNano()
	tx.Sign(w.PrivKey())
	tx.Signature = crypto.Sign(newWallet(t).PrivKey(), []byte(tx.ID))
	require.Error(t, mp.Add(tx))
	require.Zero(t, mp.Size())
}

func TestErrorCodes(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code string
	}{
		{nil, core.CodeOK},
		{core.ErrReplayDetected, core.CodeReplayDetected},
		{fmt.Errorf("session 4: %w", core.ErrSessionClosed), core.CodeSessionClosed},
		{fmt.Errorf("x: %w", fmt.Errorf("y: %w", core.ErrDisputeWindowExpired)), core.CodeDisputeWindowExpired},
		{errors.New("disk full"), core.CodeInternal},
	} {
		require.Equal(t, tc.code, core.Code(tc.err), "%v", tc.err)
		if tc.err != nil && tc.code != core.CodeInternal {
			require.ErrorIs(t, tc.err, core.ErrorForCode(tc.code))
		}
	}
	require.Nil(t, core.ErrorForCode("Bogus"))

	require.False(t, core.Retryable(nil))
	require.False(t, core.Retryable(fmt.Errorf("report: %w", core.ErrReplayDetected)))
	require.True(t, core.Retryable(errors.New("connection reset")))
}

func TestReceiptErr(t *testing.T) {
	require.NoError(t, (*core.Receipt)(nil).Err())
	require.NoError(t, (&core.Receipt{Status: core.ReceiptOK, Code: core.CodeOK}).Err())

	r := &core.Receipt{Status: core.ReceiptFailed, Code: core.CodeAlreadyClaimed, Error: "claim: already claimed"}
	require.ErrorIs(t, r.Err(), core.ErrAlreadyClaimed)

	r = &core.Receipt{Status: core.ReceiptFailed, Code: core.CodeInternal, Error: "boom"}
	require.EqualError(t, r.Err(), "boom")
}

func TestSessionPayable(t *testing.T) {
	yes, no := true, false
	for _, tc := range []struct {
		sess    core.Session
		settled bool
		payable bool
	}{
		{core.Session{Status: core.SessionOpen}, false, false},
		{core.Session{Status: core.SessionFinalized}, true, true},
		{core.Session{Status: core.SessionDisputed}, true, false},
		{core.Session{Status: core.SessionResolved, Upheld: &yes}, true, true},
		{core.Session{Status: core.SessionResolved, Upheld: &no}, true, false},
	} {
		require.Equal(t, tc.settled, tc.sess.Settled(), tc.sess.Status)
		require.Equal(t, tc.payable, tc.sess.Payable(), tc.sess.Status)
	}
}

func TestBlockchainAddBlock(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bc := core.NewBlockchain(testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	require.Nil(t, bc.Tip())
	_, err = bc.Genesis()
	require.ErrorIs(t, err, core.ErrNotFound)

	genesis := core.NewBlock(0, "00", pub.Hex(), nil)
	genesis.Sign(priv)
	require.NoError(t, bc.AddBlock(genesis))

	tx := &core.Transaction{ID: "t1"}
	mismatched := core.NewBlock(1, genesis.Hash, pub.Hex(), nil)
	mismatched.Seal([]*core.Transaction{tx}, []*core.Receipt{{TxID: "t2"}})
	mismatched.Sign(priv)
	require.ErrorIs(t, bc.AddBlock(mismatched), core.ErrBadBlock)

	missing := core.NewBlock(1, genesis.Hash, pub.Hex(), nil)
	missing.Seal([]*core.Transaction{tx}, nil)
	missing.Sign(priv)
	require.ErrorIs(t, bc.AddBlock(missing), core.ErrBadBlock)

	gap := core.NewBlock(2, genesis.Hash, pub.Hex(), nil)
	gap.Sign(priv)
	require.ErrorIs(t, bc.AddBlock(gap), core.ErrBadBlock)

	next := core.NewBlock(1, genesis.Hash, pub.Hex(), nil)
	next.Seal([]*core.Transaction{tx}, []*core.Receipt{{TxID: "t1", Code: core.CodeOK}})
	next.Sign(priv)
	require.NoError(t, bc.AddBlock(next))
	require.Equal(t, int64(1), bc.Height())

	g, err := bc.Genesis()
	require.NoError(t, err)
	require.Equal(t, genesis.Hash, g.Hash)
}
