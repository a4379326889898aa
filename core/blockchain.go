package core

import (
	"errors"
	"fmt"
	"sync"
)

// BlockStore is the persistence interface used by Blockchain.
// Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	PutBlock(block *Block) error
	GetBlockByHeight(height int64) (*Block, error)
	PutBlockByHeight(height int64, hash string) error
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	SetTip(hash string) error
	// CommitBlock atomically writes the block, its height index entry and the
	// tip pointer.
	CommitBlock(block *Block) error
}

// ErrBadBlock is returned by AddBlock for a block that does not extend the
// tip or whose receipts do not line up with its transactions.
var ErrBadBlock = errors.New("bad block")

// Blockchain is the canonical chain of committed blocks. Only the sequencer
// appends; RPC readers take the read lock.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns a Blockchain backed by store. Call Init to load a
// persisted tip.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip. A fresh store leaves the chain empty.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block %s: %w", tipHash, err)
	}
	if tip.ComputeHash() != tip.Hash {
		return fmt.Errorf("tip block %s: stored header does not match hash", tipHash)
	}
	bc.tip = tip
	return nil
}

// AddBlock checks that block extends the tip and carries one receipt per
// transaction, then persists it and advances the tip.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if err := bc.checkLinkage(block); err != nil {
		return err
	}
	if err := checkReceipts(block); err != nil {
		return err
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) checkLinkage(block *Block) error {
	if bc.tip == nil {
		return nil
	}
	if want := bc.tip.Header.Height + 1; block.Header.Height != want {
		return fmt.Errorf("block height %d does not follow tip %d: %w", block.Header.Height, bc.tip.Header.Height, ErrBadBlock)
	}
	if block.Header.PrevHash != bc.tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s: %w", block.Header.PrevHash, bc.tip.Hash, ErrBadBlock)
	}
	return nil
}

// checkReceipts requires receipts[i] to describe transactions[i].
func checkReceipts(block *Block) error {
	if len(block.Receipts) != len(block.Transactions) {
		return fmt.Errorf("block %d: %d receipts for %d transactions: %w",
			block.Header.Height, len(block.Receipts), len(block.Transactions), ErrBadBlock)
	}
	for i, tx := range block.Transactions {
		if block.Receipts[i].TxID != tx.ID {
			return fmt.Errorf("block %d: receipt %d is for %s, not %s: %w",
				block.Header.Height, i, block.Receipts[i].TxID, tx.ID, ErrBadBlock)
		}
	}
	return nil
}

// GetBlock returns a block by its hash.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlock(hash)
}

// GetBlockByHeight returns the block at the given height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.store.GetBlockByHeight(height)
}

// Genesis returns block 0, or ErrNotFound for an empty chain.
func (bc *Blockchain) Genesis() (*Block, error) {
	return bc.GetBlockByHeight(0)
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the height of the tip; 0 for a fresh chain.
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}
