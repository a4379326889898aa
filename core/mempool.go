package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxPerSender   = 256                    // one relay may not crowd out everyone else
	maxTxAge       = int64(time.Hour)       // reject txs older than 1 hour
	maxTxFuture    = int64(5 * time.Minute) // reject txs more than 5 min in the future
)

var (
	// ErrTxKnown is returned by Add for a transaction already pending. Relays
	// resubmitting the same signed transaction treat it as accepted.
	ErrTxKnown = errors.New("tx already in pool")
	// ErrMempoolFull is returned when the pool or the sender's quota is full.
	ErrMempoolFull = errors.New("mempool full")
)

// Mempool is a thread-safe pending-transaction pool.
type Mempool struct {
	mu       sync.RWMutex
	txs      map[string]*Transaction
	ord      []string       // arrival order
	bySender map[string]int // pending count per From
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[string]*Transaction), bySender: make(map[string]int)}
}

// Add validates and inserts a transaction. The ID must match the contents,
// the signature must verify and the timestamp must lie within -1 h / +5 min.
func (m *Mempool) Add(tx *Transaction) error {
	if tx.ID != tx.Hash() {
		return errors.New("tx id does not match contents")
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return errors.New("transaction expired")
	}
	if tx.Timestamp-now > maxTxFuture {
		return errors.New("transaction timestamp too far in the future")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txs[tx.ID]; exists {
		return ErrTxKnown
	}
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if m.bySender[tx.From] >= maxPerSender {
		return fmt.Errorf("sender has %d pending: %w", maxPerSender, ErrMempoolFull)
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	m.bySender[tx.From]++
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n transactions ready for a block. Senders are served
// in order of their earliest pending arrival and each sender's transactions
// are nonce-ordered, so a relay's out-of-order submissions still chain up
// within a single block.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rank := make(map[string]int)
	all := make([]*Transaction, 0, len(m.ord))
	for _, id := range m.ord {
		tx, ok := m.txs[id]
		if !ok {
			continue
		}
		if _, seen := rank[tx.From]; !seen {
			rank[tx.From] = len(rank)
		}
		all = append(all, tx)
	}
	sort.SliceStable(all, func(i, j int) bool {
		ri, rj := rank[all[i].From], rank[all[j].From]
		if ri != rj {
			return ri < rj
		}
		return all[i].Nonce < all[j].Nonce
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		tx, ok := m.txs[id]
		if !ok {
			continue
		}
		delete(m.txs, id)
		m.bySender[tx.From]--
		if m.bySender[tx.From] <= 0 {
			delete(m.bySender, tx.From)
		}
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if _, ok := m.txs[id]; ok {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
