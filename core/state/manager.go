package state

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nhbcdp/storage"
)

// ErrNoTransaction is returned by writes issued outside Update.
var ErrNoTransaction = errors.New("state: write outside update")

// Manager persists the ledger modules on top of a key-value database. Every
// write happens inside Update: a single writer holds the manager lock, writes
// land in an overlay and are committed with one storage batch when the
// callback succeeds. A failing callback discards the overlay, so a failed
// operation leaves no trace. View runs readers under the shared lock.
//
// Reads issued outside Update and View observe committed state without
// coordination with a concurrent writer.
type Manager struct {
	db storage.Database

	mu sync.RWMutex
	tx *overlay
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type overlay struct {
	writes map[string][]byte
	dels   map[string]struct{}
}

func newOverlay() *overlay {
	return &overlay{writes: make(map[string][]byte), dels: make(map[string]struct{})}
}

// Update runs fn as one atomic state transition. Update must not be called
// from inside fn.
func (m *Manager) Update(fn func() error) error {
	return m.UpdateThen(fn, nil)
}

// UpdateThen is Update with a hook that runs after a successful commit and
// before the writer lock is released. The next writer cannot start until
// committed returns, and committed never runs for a failed transition.
func (m *Manager) UpdateThen(fn func() error, committed func()) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx = newOverlay()
	defer func() { m.tx = nil }()
	if err := fn(); err != nil {
		return err
	}
	if err := m.commit(); err != nil {
		return err
	}
	m.tx = nil
	if committed != nil {
		committed()
	}
	return nil
}

// View runs fn under the shared lock. Writes issued by fn fail.
func (m *Manager) View(fn func() error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn()
}

func (m *Manager) commit() error {
	if len(m.tx.writes) == 0 && len(m.tx.dels) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	keys := make([]string, 0, len(m.tx.writes)+len(m.tx.dels))
	for key := range m.tx.writes {
		keys = append(keys, key)
	}
	for key := range m.tx.dels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if value, ok := m.tx.writes[key]; ok {
			batch.Put([]byte(key), value)
			continue
		}
		batch.Delete([]byte(key))
	}
	return batch.Write()
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if m.tx != nil {
		if value, ok := m.tx.writes[string(key)]; ok {
			return value, nil
		}
		if _, ok := m.tx.dels[string(key)]; ok {
			return nil, nil
		}
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) put(key, value []byte) error {
	if m.tx == nil {
		return ErrNoTransaction
	}
	delete(m.tx.dels, string(key))
	m.tx.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *Manager) delete(key []byte) error {
	if m.tx == nil {
		return ErrNoTransaction
	}
	delete(m.tx.writes, string(key))
	m.tx.dels[string(key)] = struct{}{}
	return nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.delete(kvKey(key))
}

// KVGetList decodes an RLP list stored under key into the slice pointed to by
// out. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}
