package sequencer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/indexer"
	"github.com/tolelom/tolsettle/internal/testutil"
	"github.com/tolelom/tolsettle/sequencer"
	"github.com/tolelom/tolsettle/storage"
	"github.com/tolelom/tolsettle/vm"
	"github.com/tolelom/tolsettle/wallet"

	_ "github.com/tolelom/tolsettle/vm/modules/all"
)

const chainID = "seq-test"

type fixture struct {
	db      *testutil.MemDB
	seq     *sequencer.Sequencer
	bc      *core.Blockchain
	state   *storage.StateDB
	mempool *core.Mempool
	idx     *indexer.Indexer
	emitter *events.Emitter
	key     *wallet.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	require.NoError(t, bc.Init())
	emitter := events.NewEmitter()
	mempool := core.NewMempool()
	key, err := wallet.Generate(chainID)
	require.NoError(t, err)
	require.NoError(t, state.SetParams(&core.Params{Admin: key.PubKey(), DisputeWindow: core.DefaultDisputeWindow}))
	require.NoError(t, state.SetAccount(&core.Account{Address: key.PubKey(), Balance: 1000}))

	exec := vm.NewExecutor(state, emitter, chainID)
	return &fixture{
		db:      db,
		seq:     sequencer.New(bc, state, mempool, exec, emitter, key.PrivKey(), 0),
		bc:      bc,
		state:   state,
		mempool: mempool,
		idx:     indexer.New(db, emitter),
		emitter: emitter,
		key:     key,
	}
}

func TestProduceEmptyBlocks(t *testing.T) {
	f := newFixture(t)
	for h := int64(1); h <= 3; h++ {
		block, err := f.seq.ProduceBlock()
		require.NoError(t, err)
		require.Equal(t, h, block.Header.Height)
	}
	require.Equal(t, int64(3), f.bc.Height())
}

func TestProduceBlockWithReceipts(t *testing.T) {
	f := newFixture(t)
	player, err := wallet.Generate(chainID)
	require.NoError(t, err)

	start, err := f.key.StartSession(player.PubKey(), "hero-1", "", 0, 1)
	require.NoError(t, err)
	// Not the player and not a relay: included but failed.
	require.NoError(t, f.mempool.Add(start))
	future, err := f.key.ClaimReward(0, 5, 0)
	require.NoError(t, err)
	require.NoError(t, f.mempool.Add(future))

	block, err := f.seq.ProduceBlock()
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	require.Len(t, block.Receipts, 1)
	require.Equal(t, core.CodeUnauthorized, block.Receipts[0].Code)
	require.Equal(t, core.ComputeReceiptRoot(block.Receipts), block.Header.ReceiptRoot)

	// The future-nonce tx waits in the pool; the included one is gone.
	require.Equal(t, 1, f.mempool.Size())
	_, ok := f.mempool.Get(future.ID)
	require.True(t, ok)

	r, err := f.idx.GetReceipt(start.ID)
	require.NoError(t, err)
	require.Equal(t, core.ReceiptFailed, r.Status)
	require.ErrorIs(t, r.Err(), core.ErrUnauthorized)

	acc, err := f.state.GetAccount(f.key.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(999), acc.Balance)
	require.Equal(t, uint64(1), acc.Nonce)
}

func TestIndexesSessions(t *testing.T) {
	f := newFixture(t)
	for nonce := uint64(0); nonce < 2; nonce++ {
		tx, err := f.key.StartSession(f.key.PubKey(), "hero-1", "", nonce, 0)
		require.NoError(t, err)
		require.NoError(t, f.mempool.Add(tx))
	}
	_, err := f.seq.ProduceBlock()
	require.NoError(t, err)

	ids, err := f.idx.GetSessionsByPlayer(f.key.PubKey())
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, ids)
	ids, err = f.idx.GetSessionsByNFT("hero-1")
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, ids)
	ids, err = f.idx.GetSessionsByNFT("none")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestBlockStoreFailureRevertsState(t *testing.T) {
	f := newFixture(t)
	var started []events.Event
	f.emitter.Subscribe(events.EventSessionStarted, func(ev events.Event) { started = append(started, ev) })
	tx, err := f.key.StartSession(f.key.PubKey(), "hero-1", "", 0, 1)
	require.NoError(t, err)
	require.NoError(t, f.mempool.Add(tx))

	f.db.FailWrites("block:", nil)
	_, err = f.seq.ProduceBlock()
	require.ErrorIs(t, err, testutil.ErrInjected)
	require.Zero(t, f.bc.Height())
	require.Equal(t, 1, f.mempool.Size(), "tx stays pending")
	_, err = f.state.GetSession(0)
	require.ErrorIs(t, err, core.ErrNotFound)
	acc, err := f.state.GetAccount(f.key.PubKey())
	require.NoError(t, err)
	require.Zero(t, acc.Nonce)
	_, err = f.idx.GetReceipt(tx.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.Empty(t, started, "events of an unstored block are not delivered")

	f.db.HealWrites()
	block, err := f.seq.ProduceBlock()
	require.NoError(t, err)
	require.Equal(t, core.CodeOK, block.Receipts[0].Code)
	require.EqualValues(t, 0, block.Receipts[0].Result["session_id"], "reverted id is reallocated")
	require.Zero(t, f.mempool.Size())
	require.Len(t, started, 1)
}

func TestValidateBlock(t *testing.T) {
	f := newFixture(t)
	block, err := f.seq.ProduceBlock()
	require.NoError(t, err)

	next := core.NewBlock(2, block.Hash, f.key.PubKey(), nil)
	next.Seal(nil, nil)
	next.Sign(f.key.PrivKey())
	require.NoError(t, f.seq.ValidateBlock(next))

	stale := core.NewBlock(2, "beef", f.key.PubKey(), nil)
	stale.Seal(nil, nil)
	stale.Sign(f.key.PrivKey())
	require.ErrorContains(t, f.seq.ValidateBlock(stale), "prev_hash")

	other, err := wallet.Generate(chainID)
	require.NoError(t, err)
	forged := core.NewBlock(2, block.Hash, other.PubKey(), nil)
	forged.Seal(nil, nil)
	forged.Sign(other.PrivKey())
	require.ErrorContains(t, f.seq.ValidateBlock(forged), "wrong proposer")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.seq.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return f.bc.Height() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
