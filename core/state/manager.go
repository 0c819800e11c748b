package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"xficredit/storage"
)

// Store is the persistence surface the ledgers depend on. Records are RLP
// encoded; writes are grouped into batches so an operation commits all of
// its records or none of them.
type Store interface {
	NewBatch() *Batch
	KVGet(key []byte, out interface{}) (bool, error)
	KVIterate(prefix []byte, fn func(key []byte, decode func(out interface{}) error) error) error
}

// Manager adapts a storage.Database into a Store.
type Manager struct {
	db storage.Database
}

// NewManager wraps db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the underlying key-value store.
func (m *Manager) Database() storage.Database { return m.db }

// KVPut RLP-encodes value and writes it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(key)
}

// KVIterate walks every key under prefix. decode unpacks the current value.
func (m *Manager) KVIterate(prefix []byte, fn func(key []byte, decode func(out interface{}) error) error) error {
	return m.db.Iterate(prefix, func(key, value []byte) error {
		return fn(key, func(out interface{}) error {
			return rlp.DecodeBytes(value, out)
		})
	})
}

// NewBatch starts a write set.
func (m *Manager) NewBatch() *Batch {
	return &Batch{batch: m.db.NewBatch()}
}

// Batch accumulates encoded writes. The first encoding failure is retained
// and reported by Commit.
type Batch struct {
	batch storage.Batch
	err   error
}

// Put encodes value and stages it.
func (b *Batch) Put(key []byte, value interface{}) {
	if b.err != nil {
		return
	}
	if len(key) == 0 {
		b.err = fmt.Errorf("kv: key must not be empty")
		return
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		b.err = fmt.Errorf("kv: encode %x: %w", key, err)
		return
	}
	b.batch.Put(key, encoded)
}

// Delete stages a removal.
func (b *Batch) Delete(key []byte) {
	if b.err != nil {
		return
	}
	b.batch.Delete(key)
}

// Len reports the number of staged writes.
func (b *Batch) Len() int { return b.batch.Len() }

// Commit writes the staged set atomically.
func (b *Batch) Commit() error {
	if b.err != nil {
		return b.err
	}
	if b.batch.Len() == 0 {
		return nil
	}
	return b.batch.Write()
}
