package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"saleescrow/storage"
)

var (
	// ErrNestedUpdate is returned when Update or View is invoked with a
	// context that already belongs to a running update.
	ErrNestedUpdate = errors.New("state: nested update")
	// ErrReadOnly is returned when a view attempts to write.
	ErrReadOnly = errors.New("state: read-only transaction")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("state: manager closed")
)

type txKey struct{}

// Manager serialises every state mutation through a single writer. Each
// Update sees its own writes immediately and commits them in one storage
// batch, or discards them when the callback fails.
type Manager struct {
	mu     sync.RWMutex
	db     storage.Database
	closed bool
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	if db == nil {
		panic("state: database required")
	}
	return &Manager{db: db}
}

// Update runs fn inside an atomic unit of work. The context passed to fn is
// tagged so a nested Update or View on it fails fast instead of deadlocking.
func (m *Manager) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(txKey{}) != nil {
		return ErrNestedUpdate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tx := newTx(m.db, false)
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against committed state under a read lock.
func (m *Manager) View(ctx context.Context, fn func(tx *Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(txKey{}) != nil {
		return ErrNestedUpdate
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(newTx(m.db, true))
}

// Close releases the underlying database. In-flight updates finish first.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.db.Close()
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Tx is a write-buffer overlay over the database. Reads consult the buffer
// before the database so a unit of work observes its own writes.
type Tx struct {
	db       storage.Database
	writes   map[string]pendingWrite
	readOnly bool
}

func newTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{db: db, writes: make(map[string]pendingWrite), readOnly: readOnly}
}

func (tx *Tx) get(key []byte) ([]byte, error) {
	if w, ok := tx.writes[string(key)]; ok {
		if w.deleted {
			return nil, nil
		}
		return append([]byte(nil), w.value...), nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (tx *Tx) put(key, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
	return nil
}

func (tx *Tx) delete(key []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.writes[string(key)] = pendingWrite{deleted: true}
	return nil
}

func (tx *Tx) loadRLP(key []byte, out interface{}) (bool, error) {
	data, err := tx.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

func (tx *Tx) storeRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return tx.put(key, encoded)
}

// Pending reports the number of buffered writes.
func (tx *Tx) Pending() int { return len(tx.writes) }

func (tx *Tx) commit() error {
	if len(tx.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := tx.db.NewBatch()
	for _, k := range keys {
		w := tx.writes[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	tx.writes = make(map[string]pendingWrite)
	return nil
}
