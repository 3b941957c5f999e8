package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"spotchain/storage"
)

// Manager is a journaled key-value overlay over a storage backend. Writes are
// buffered in memory until Commit; Snapshot and RevertToSnapshot let an
// engine discard every write made by a failed operation.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	dirty   map[string]*dirtyValue
	journal []journalEntry
}

type dirtyValue struct {
	value   []byte
	deleted bool
}

// journalEntry records the overlay value a key had before a write. A nil prev
// means the key was not in the overlay.
type journalEntry struct {
	key  string
	prev *dirtyValue
}

// NewManager returns a manager backed by db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]*dirtyValue)}
}

// Snapshot returns an identifier for the current overlay state.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the matching Snapshot.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.prev == nil {
			delete(m.dirty, entry.key)
			continue
		}
		m.dirty[entry.key] = entry.prev
	}
	m.journal = m.journal[:id]
}

// Commit flushes the overlay to the backing database in one batch and clears
// the journal. Snapshots taken before Commit become invalid.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, key := range keys {
		val := m.dirty[key]
		if val.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), val.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]*dirtyValue)
	m.journal = m.journal[:0]
	return nil
}

// Pending reports the number of uncommitted keys.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if val, ok := m.dirty[string(key)]; ok {
		if val.deleted {
			return nil, nil
		}
		return append([]byte(nil), val.value...), nil
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(key []byte, val *dirtyValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	m.journal = append(m.journal, journalEntry{key: k, prev: m.dirty[k]})
	m.dirty[k] = val
}

func (m *Manager) put(key, value []byte) {
	m.write(key, &dirtyValue{value: append([]byte(nil), value...)})
}

func (m *Manager) remove(key []byte) {
	m.write(key, &dirtyValue{deleted: true})
}

// storageKey hashes prefix and parts into the 32-byte database key.
func storageKey(prefix []byte, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(prefix)+32*len(parts))
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	return nil
}

func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut stores the RLP encoding of value under the hash of key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.putRLP(kvKey(key), value)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.getRLP(kvKey(key), out)
}

// KVDelete removes key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.remove(kvKey(key))
	return nil
}

// appendUnique appends value to the list stored at key unless it is already
// present. It reports whether the list changed.
func (m *Manager) appendUnique(key []byte, value []byte) (bool, error) {
	var list [][]byte
	if _, err := m.getRLP(key, &list); err != nil {
		return false, err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return false, nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return true, m.putRLP(key, list)
}

func (m *Manager) list(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := m.getRLP(key, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = [][]byte{}
	}
	return list, nil
}

func (m *Manager) keyList(key []byte) ([][32]byte, error) {
	raw, err := m.list(key)
	if err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, len(raw))
	for _, item := range raw {
		if len(item) != 32 {
			return nil, fmt.Errorf("state: malformed key index entry of %d bytes", len(item))
		}
		var k [32]byte
		copy(k[:], item)
		out = append(out, k)
	}
	return out, nil
}
