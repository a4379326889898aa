package storage

// DB is the ordered key-value store under the node. World state, blocks and
// the indexer share one DB and keep apart by key prefix.
type DB interface {
	// Get returns core.ErrNotFound for a missing key.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// NewIterator yields the pairs under prefix in ascending key order.
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs matching a prefix.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch buffers writes; Write applies all of them or none.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Reset()
	Write() error
}
