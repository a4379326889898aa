// Package sequencer implements single-authority block production. One
// configured key orders, executes and signs every block; other nodes only
// verify its signature and linkage.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tolelom/tolsettle/config"
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/vm"
)

// DefaultMaxBlockTxs bounds a block when the config leaves it unset.
const DefaultMaxBlockTxs = 500

// ErrCommit means a block was stored but the state behind it could not be
// flushed. The node must stop.
var ErrCommit = errors.New("state commit failed after block was stored")

// Sequencer is the block producer.
type Sequencer struct {
	mu      sync.Mutex
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	maxTxs  int
	log     *slog.Logger
}

// New creates a Sequencer signing with privKey.
func New(
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	maxTxs int,
) *Sequencer {
	if maxTxs <= 0 {
		maxTxs = DefaultMaxBlockTxs
	}
	return &Sequencer{
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		maxTxs:  maxTxs,
		log:     slog.Default().With("component", "sequencer"),
	}
}

// ProduceBlock executes pending transactions into the next block, signs it,
// stores it and commits state. Blocks are produced even when empty since
// their height is the dispute clock.
func (s *Sequencer) ProduceBlock() (*core.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.mempool.Pending(s.maxTxs)

	tip := s.bc.Tip()
	prevHash, nextHeight := config.GenesisHash, int64(1)
	if tip != nil {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}
	block := core.NewBlock(nextHeight, prevHash, s.pubKey.Hex(), nil)

	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	res := s.exec.ExecuteBlock(block, pending)
	block.Seal(res.Included, res.Receipts)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Sign(s.privKey)

	if err := s.bc.AddBlock(block); err != nil {
		if revertErr := s.state.RevertToSnapshot(snap); revertErr != nil {
			return nil, fmt.Errorf("add block: %w (revert: %v)", err, revertErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}
	if err := s.state.Commit(); err != nil {
		return nil, fmt.Errorf("block %d: %v: %w", block.Header.Height, err, ErrCommit)
	}

	// Nothing is delivered for a block that was not stored.
	s.emitter.EmitAll(res.Events)
	s.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "block": block},
	})

	done := make([]string, 0, len(res.Included)+len(res.Dropped))
	for _, tx := range res.Included {
		done = append(done, tx.ID)
	}
	for id, err := range res.Dropped {
		if errors.Is(err, vm.ErrFutureNonce) {
			continue
		}
		s.log.Warn("dropped tx", "tx", id, "height", block.Header.Height, "err", err)
		done = append(done, id)
	}
	s.mempool.Remove(done)
	return block, nil
}

// ValidateBlock checks that block was produced by the sequencer key and
// extends the current tip.
func (s *Sequencer) ValidateBlock(block *core.Block) error {
	if block.Header.Proposer != s.pubKey.Hex() {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, s.pubKey.Hex())
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(s.pubKey); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if block.Header.TxRoot != core.ComputeTxRoot(block.Transactions) {
		return errors.New("tx_root mismatch")
	}
	if block.Header.ReceiptRoot != core.ComputeReceiptRoot(block.Receipts) {
		return errors.New("receipt_root mismatch")
	}

	tip := s.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// Run produces a block every interval until ctx is cancelled. It returns
// early only on ErrCommit.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			block, err := s.ProduceBlock()
			if errors.Is(err, ErrCommit) {
				return err
			}
			if err != nil {
				s.log.Error("produce block", "err", err)
				continue
			}
			if n := len(block.Transactions); n > 0 {
				s.log.Info("block committed", "height", block.Header.Height, "txs", n)
			}
		}
	}
}
