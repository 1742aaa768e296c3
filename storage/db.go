package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key has never been written or was
// deleted.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// The vault state manager flushes committed operations through it, so any
// backend (in-memory or persistent) can sit underneath.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Write applies every entry of the batch atomically. A nil value deletes
	// the key.
	Write(batch map[string][]byte) error
	// Keys returns every key starting with prefix in ascending order.
	Keys(prefix []byte) ([][]byte, error)
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(batch map[string][]byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key, value := range batch {
		if value == nil {
			delete(db.data, key)
			continue
		}
		db.data[key] = append([]byte(nil), value...)
	}
	return nil
}

func (db *MemDB) Keys(prefix []byte) ([][]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p := string(prefix)
	keys := make([]string, 0)
	for key := range db.data {
		if len(key) >= len(p) && key[:len(p)] == p {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i] = []byte(key)
	}
	return out, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes the key if present.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write commits the batch in a single LevelDB write.
func (ldb *LevelDB) Write(batch map[string][]byte) error {
	b := new(leveldb.Batch)
	for key, value := range batch {
		if value == nil {
			b.Delete([]byte(key))
			continue
		}
		b.Put([]byte(key), value)
	}
	return ldb.db.Write(b, nil)
}

// Keys lists stored keys sharing the prefix.
func (ldb *LevelDB) Keys(prefix []byte) ([][]byte, error) {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	out := make([][]byte, 0)
	for iter.Next() {
		out = append(out, append([]byte(nil), iter.Key()...))
	}
	return out, iter.Error()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
