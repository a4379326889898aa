package all_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/attest"
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/internal/testutil"
	"github.com/tolelom/tolsettle/storage"
	"github.com/tolelom/tolsettle/vm"
	"github.com/tolelom/tolsettle/wallet"

	_ "github.com/tolelom/tolsettle/vm/modules/all"
)

const testChainID = "tolsettle-test"

// chain drives the executor one transaction per block, tracking nonces.
type chain struct {
	t       *testing.T
	state   *storage.StateDB
	exec    *vm.Executor
	emitter *events.Emitter
	height  int64
	nonces  map[string]uint64
	admin   *wallet.Wallet
}

func newChain(t *testing.T) *chain {
	t.Helper()
	state := testutil.NewStateDB()
	emitter := events.NewEmitter()
	admin := newWallet(t)
	require.NoError(t, state.SetParams(&core.Params{Admin: admin.PubKey(), DisputeWindow: core.DefaultDisputeWindow}))
	c := &chain{
		t:       t,
		state:   state,
		exec:    vm.NewExecutor(state, emitter, testChainID),
		emitter: emitter,
		height:  1,
		nonces:  make(map[string]uint64),
		admin:   admin,
	}
	c.fund(admin, 10_000_000)
	return c
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate(testChainID)
	require.NoError(t, err)
	return w
}

func (c *chain) fund(w *wallet.Wallet, amount uint64) {
	c.t.Helper()
	require.NoError(c.t, c.state.SetAccount(&core.Account{Address: w.PubKey(), Balance: amount}))
}

// send signs and executes one transaction in a block at the current height.
func (c *chain) send(w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	c.t.Helper()
	nonce := c.nonces[w.PubKey()]
	tx, err := w.NewTx(typ, nonce, 0, payload)
	require.NoError(c.t, err)
	block := core.NewBlock(c.height, "prev", c.admin.PubKey(), []*core.Transaction{tx})
	receipt, err := c.exec.ExecuteTx(block, tx)
	require.NoError(c.t, err)
	c.nonces[w.PubKey()] = nonce + 1
	return receipt
}

// ok sends and requires success.
func (c *chain) ok(w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	c.t.Helper()
	r := c.send(w, typ, payload)
	require.Equal(c.t, core.ReceiptOK, r.Status, "%s failed: %s", typ, r.Error)
	return r
}

// fails sends and requires the given taxonomy error.
func (c *chain) fails(want error, w *wallet.Wallet, typ core.TxType, payload any) *core.Receipt {
	c.t.Helper()
	r := c.send(w, typ, payload)
	require.Equal(c.t, core.ReceiptFailed, r.Status)
	require.ErrorIs(c.t, r.Err(), want, "got %s: %s", r.Code, r.Error)
	return r
}

func (c *chain) advance(n int64) { c.height += n }

func (c *chain) trust(s *attest.Signer) {
	c.t.Helper()
	c.ok(c.admin, core.TxSetTrustedServer, core.SetTrustedServerPayload{
		PublicKey: s.PublicKey().Hex(),
		Enabled:   true,
		Name:      "srv",
	})
}

func (c *chain) startSession(caller *wallet.Wallet, player, nft, module string) uint64 {
	c.t.Helper()
	r := c.ok(caller, core.TxStartSession, core.StartSessionPayload{Player: player, NFTTokenID: nft, GameModuleID: module})
	id, ok := r.Result["session_id"].(uint64)
	require.True(c.t, ok, "session_id missing from receipt")
	return id
}

func (c *chain) session(id uint64) *core.Session {
	c.t.Helper()
	sess, err := c.state.GetSession(id)
	require.NoError(c.t, err)
	return sess
}

// attested builds a signed report for sess as the game server would.
func attested(t *testing.T, s *attest.Signer, sess *core.Session, score, exp uint64, meta []byte) core.ReportResultPayload {
	t.Helper()
	r := attest.Result{
		SessionID: sess.ID,
		Player:    sess.Player,
		GameID:    sess.GameModuleID,
		Score:     score,
		ExpGained: exp,
		Timestamp: 1_700_000_000,
		Meta:      meta,
	}
	a, err := s.Sign(r)
	require.NoError(t, err)
	return attest.Payload(r, a)
}

func newSigner(t *testing.T) *attest.Signer {
	t.Helper()
	s, err := attest.GenerateSigner()
	require.NoError(t, err)
	return s
}

// finalized returns a player with a session already settled for score/exp.
func (c *chain) finalized(score, exp uint64) (*wallet.Wallet, uint64) {
	c.t.Helper()
	srv := newSigner(c.t)
	c.trust(srv)
	player := newWallet(c.t)
	c.fund(player, 1000)
	id := c.startSession(player, player.PubKey(), "", "")
	c.ok(player, core.TxReportResult, attested(c.t, srv, c.session(id), score, exp, nil))
	return player, id
}
