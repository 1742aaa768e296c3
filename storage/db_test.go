package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("vault/state"), []byte{0x01}))
	got, err := db.Get([]byte("vault/state"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, got)

	require.NoError(t, db.Write(map[string][]byte{
		"vault/shares/a": {0x0a},
		"vault/shares/b": {0x0b},
		"vault/state":    nil,
	}))
	_, err = db.Get([]byte("vault/state"))
	require.ErrorIs(t, err, ErrNotFound)

	keys, err := db.Keys([]byte("vault/shares/"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("vault/shares/a"), []byte("vault/shares/b")}, keys)

	require.NoError(t, db.Delete([]byte("vault/shares/a")))
	keys, err = db.Keys([]byte("vault/shares/"))
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	exerciseDatabase(t, db)
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get([]byte("vault/shares/b"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x0b}, got)
}
