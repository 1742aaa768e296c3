package common

// Storage is the key/value surface engines persist through. Values are RLP
// encoded by the implementation.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// IndexedStorage extends Storage with deterministic append-only indexes.
type IndexedStorage interface {
	Storage
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}
