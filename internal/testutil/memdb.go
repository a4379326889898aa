// Package testutil provides in-memory storage and fault injection for tests
// across the module. Never import this in production code.
package testutil

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/storage"
)

// ErrInjected is the default error returned by a failing MemDB.
var ErrInjected = errors.New("injected write failure")

// MemDB is a thread-safe in-memory storage.DB. Writes touching a key with a
// prefix registered through FailWrites return the injected error and leave
// the data untouched, which lets tests exercise commit failures.
type MemDB struct {
	mu    sync.RWMutex
	data  map[string][]byte
	fails map[string]error
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte), fails: make(map[string]error)}
}

// FailWrites makes every later write of a key starting with prefix fail with
// err (ErrInjected when err is nil). A batch fails as a whole.
func (m *MemDB) FailWrites(prefix string, err error) {
	if err == nil {
		err = ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails[prefix] = err
}

// HealWrites removes all injected failures.
func (m *MemDB) HealWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = make(map[string]error)
}

// Len returns the number of stored keys with prefix.
func (m *MemDB) Len(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

// failure must be called with m.mu held.
func (m *MemDB) failure(key string) error {
	for p, err := range m.fails {
		if strings.HasPrefix(key, p) {
			return err
		}
	}
	return nil
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (m *MemDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(string(key)); err != nil {
		return err
	}
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(string(key)); err != nil {
		return err
	}
	delete(m.data, string(key))
	return nil
}

// NewIterator snapshots the matching pairs in key order, as LevelDB does.
func (m *MemDB) NewIterator(prefix []byte) storage.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	var pairs []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			pairs = append(pairs, kv{k: []byte(k), v: append([]byte(nil), v...)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return string(pairs[i].k) < string(pairs[j].k) })
	return &memIter{pairs: pairs, idx: -1}
}

func (m *MemDB) NewBatch() storage.Batch {
	return &memBatch{db: m}
}

func (m *MemDB) Close() error { return nil }

type batchOp struct {
	key    string
	value  []byte
	delete bool
}

// memBatch applies its operations under one lock, all or nothing.
type memBatch struct {
	db  *MemDB
	ops []batchOp
}

func (b *memBatch) Set(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: string(key), value: append([]byte{}, value...)})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: string(key), delete: true})
}

func (b *memBatch) Reset() { b.ops = nil }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if err := b.db.failure(op.key); err != nil {
			return err
		}
	}
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.data, op.key)
		} else {
			b.db.data[op.key] = op.value
		}
	}
	return nil
}

type kv struct{ k, v []byte }

type memIter struct {
	pairs []kv
	idx   int
}

func (it *memIter) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *memIter) Key() []byte   { return it.pairs[it.idx].k }
func (it *memIter) Value() []byte { return it.pairs[it.idx].v }
func (it *memIter) Release()      {}
func (it *memIter) Error() error  { return nil }

// NewBlockStore returns a storage.BlockStore backed by a fresh MemDB.
func NewBlockStore() *storage.BlockStore {
	return storage.NewBlockStore(NewMemDB())
}

// NewStateDB returns a storage.StateDB backed by a fresh MemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}
