// Package indexer maintains secondary indexes over committed blocks so game
// servers can look up receipts and sessions without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/storage"
)

const (
	prefixReceipt       = "idx:receipt:"
	prefixPlayerSession = "idx:player:session:"
	prefixNFTSession    = "idx:nft:session:"
)

// Indexer subscribes to block commits and updates secondary lookup tables.
// It reads only committed blocks, so an abandoned block leaves no trace.
type Indexer struct {
	db  storage.DB
	log *slog.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, log: slog.Default().With("component", "indexer")}
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	return idx
}

// GetReceipt returns the receipt of a committed transaction.
func (idx *Indexer) GetReceipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &r, nil
}

// GetSessionsByPlayer returns the IDs of all sessions started for a player.
func (idx *Indexer) GetSessionsByPlayer(player string) ([]uint64, error) {
	return idx.getList(prefixPlayerSession + player)
}

// GetSessionsByNFT returns the IDs of all sessions that referenced an NFT.
func (idx *Indexer) GetSessionsByNFT(tokenID string) ([]uint64, error) {
	return idx.getList(prefixNFTSession + tokenID)
}

// ---- event handlers ----

func (idx *Indexer) onBlockCommit(ev events.Event) {
	block, _ := ev.Data["block"].(*core.Block)
	if block == nil {
		return
	}
	if err := idx.Index(block); err != nil {
		idx.log.Error("index block", "height", block.Header.Height, "err", err)
	}
}

// Index records the receipts and started sessions of a committed block.
func (idx *Indexer) Index(block *core.Block) error {
	batch := idx.db.NewBatch()
	lists := make(map[string][]uint64)
	appendID := func(key string, id uint64) error {
		ids, ok := lists[key]
		if !ok {
			var err error
			if ids, err = idx.getList(key); err != nil {
				return err
			}
		}
		lists[key] = append(ids, id)
		return nil
	}

	for i, r := range block.Receipts {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		batch.Set([]byte(prefixReceipt+r.TxID), data)

		if r.Type != core.TxStartSession || r.Status != core.ReceiptOK || i >= len(block.Transactions) {
			continue
		}
		id, ok := r.Result["session_id"].(uint64)
		if !ok {
			continue
		}
		var p core.StartSessionPayload
		if err := json.Unmarshal(block.Transactions[i].Payload, &p); err != nil {
			return fmt.Errorf("decode start_session %s: %w", r.TxID, err)
		}
		if err := appendID(prefixPlayerSession+p.Player, id); err != nil {
			return err
		}
		if p.NFTTokenID != "" {
			if err := appendID(prefixNFTSession+p.NFTTokenID, id); err != nil {
				return err
			}
		}
	}

	for key, ids := range lists {
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		batch.Set([]byte(key), data)
	}
	return batch.Write()
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}
