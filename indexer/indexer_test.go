package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/internal/testutil"
)

func TestIndexIgnoresFailedStarts(t *testing.T) {
	emitter := events.NewEmitter()
	idx := New(testutil.NewMemDB(), emitter)

	ok, err := core.NewTransaction("c", core.TxStartSession, "caller", 0, 0, core.StartSessionPayload{Player: "p1", NFTTokenID: "n1"})
	require.NoError(t, err)
	ok.ID = "tx-ok"
	failed, err := core.NewTransaction("c", core.TxStartSession, "caller", 1, 0, core.StartSessionPayload{Player: "p1"})
	require.NoError(t, err)
	failed.ID = "tx-failed"

	block := core.NewBlock(1, "prev", "seq", nil)
	block.Seal([]*core.Transaction{ok, failed}, []*core.Receipt{
		{TxID: ok.ID, Type: core.TxStartSession, Status: core.ReceiptOK, Code: core.CodeOK, Result: map[string]any{"session_id": uint64(4)}},
		{TxID: failed.ID, Type: core.TxStartSession, Status: core.ReceiptFailed, Code: core.CodeUnauthorized},
	})
	emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 1, Data: map[string]any{"block": block}})

	ids, err := idx.GetSessionsByPlayer("p1")
	require.NoError(t, err)
	require.Equal(t, []uint64{4}, ids)
	ids, err = idx.GetSessionsByNFT("n1")
	require.NoError(t, err)
	require.Equal(t, []uint64{4}, ids)

	r, err := idx.GetReceipt("tx-failed")
	require.NoError(t, err)
	require.Equal(t, core.CodeUnauthorized, r.Code)

	_, err = idx.GetReceipt("missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}
