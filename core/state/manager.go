package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"optionsvault/storage"
)

var (
	metaRootKey   = []byte("meta/root")
	metaHeightKey = []byte("meta/height")
)

const rootSeed = "optionsvault:state:v1"

type journalEntry struct {
	key     string
	prev    []byte
	inDirty bool
}

// Manager is the journaled key-value view every native module reads and
// writes through. Writes stay in an overlay until Commit flushes them to the
// backing database; RevertToSnapshot discards everything written after the
// snapshot was taken.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
	root    [32]byte
	height  uint64
}

// NewManager opens a manager over db, restoring the last committed root.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	m := &Manager{db: db, dirty: make(map[string][]byte)}
	m.root = blake3.Sum256([]byte(rootSeed))
	if raw, err := db.Get(metaRootKey); err == nil {
		if len(raw) != len(m.root) {
			return nil, fmt.Errorf("state: corrupt root (%d bytes)", len(raw))
		}
		copy(m.root[:], raw)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if raw, err := db.Get(metaHeightKey); err == nil {
		if len(raw) != 8 {
			return nil, fmt.Errorf("state: corrupt height")
		}
		m.height = binary.BigEndian.Uint64(raw)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return m, nil
}

func (m *Manager) raw(key string) ([]byte, error) {
	if value, ok := m.dirty[key]; ok {
		if value == nil {
			return nil, nil
		}
		return value, nil
	}
	value, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) write(key string, value []byte) {
	prev, inDirty := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, inDirty: inDirty})
	m.dirty[key] = value
}

// KVPut RLP-encodes value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(string(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(string(key))
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

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(string(key), nil)
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(string(key))
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	m.write(string(key), encoded)
	return nil
}

// KVGetList decodes the list stored under key into out, leaving an empty
// slice when nothing was stored.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.raw(string(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int { return len(m.journal) }

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.inDirty {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Pending reports how many keys are waiting to be committed.
func (m *Manager) Pending() int { return len(m.dirty) }

// Commit flushes the overlay to the database and chains a new state root:
// root[n] = blake3(root[n-1] || n || blake3(sorted writes)).
func (m *Manager) Commit() ([32]byte, error) {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return m.root, nil
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	digest := blake3.New(32, nil)
	var lenBuf [4]byte
	for _, key := range keys {
		value := m.dirty[key]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
		digest.Write(lenBuf[:])
		digest.Write([]byte(key))
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
		digest.Write(lenBuf[:])
		digest.Write(value)
	}

	height := m.height + 1
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	chained := make([]byte, 0, 32+8+32)
	chained = append(chained, m.root[:]...)
	chained = append(chained, heightBuf[:]...)
	chained = append(chained, digest.Sum(nil)...)
	root := blake3.Sum256(chained)

	batch := make(map[string][]byte, len(m.dirty)+2)
	for key, value := range m.dirty {
		batch[key] = value
	}
	batch[string(metaRootKey)] = append([]byte(nil), root[:]...)
	batch[string(metaHeightKey)] = append([]byte(nil), heightBuf[:]...)
	if err := m.db.Write(batch); err != nil {
		return m.root, fmt.Errorf("state: commit: %w", err)
	}
	m.root = root
	m.height = height
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return root, nil
}

// Discard drops every uncommitted write.
func (m *Manager) Discard() {
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
}

// Root returns the last committed state root.
func (m *Manager) Root() [32]byte { return m.root }

// Height returns the number of commits applied to the database.
func (m *Manager) Height() uint64 { return m.height }
