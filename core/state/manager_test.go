package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/storage"
)

type record struct {
	Round  uint64
	Amount *big.Int
	Owner  [20]byte
}

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	mgr, err := NewManager(db)
	require.NoError(t, err)
	return mgr, db
}

func TestManagerPutGetDelete(t *testing.T) {
	mgr, _ := newTestManager(t)

	var out record
	ok, err := mgr.KVGet([]byte("vault/round/1"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	in := record{Round: 1, Amount: big.NewInt(42), Owner: [20]byte{1}}
	require.NoError(t, mgr.KVPut([]byte("vault/round/1"), in))

	ok, err = mgr.KVGet([]byte("vault/round/1"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), out.Round)
	require.Equal(t, 0, out.Amount.Cmp(big.NewInt(42)))

	require.NoError(t, mgr.KVDelete([]byte("vault/round/1")))
	ok, err = mgr.KVGet([]byte("vault/round/1"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerRevertToSnapshot(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(1)))

	snap := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("a"), uint64(2)))
	require.NoError(t, mgr.KVPut([]byte("b"), uint64(3)))
	require.NoError(t, mgr.KVDelete([]byte("a")))
	mgr.RevertToSnapshot(snap)

	var a uint64
	ok, err := mgr.KVGet([]byte("a"), &a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), a)

	ok, err = mgr.KVGet([]byte("b"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerNestedSnapshots(t *testing.T) {
	mgr, _ := newTestManager(t)
	outer := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("k"), uint64(1)))
	inner := mgr.Snapshot()
	require.NoError(t, mgr.KVPut([]byte("k"), uint64(2)))
	mgr.RevertToSnapshot(inner)

	var v uint64
	_, err := mgr.KVGet([]byte("k"), &v)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	mgr.RevertToSnapshot(outer)
	ok, err := mgr.KVGet([]byte("k"), &v)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManagerCommitPersistsAndChainsRoot(t *testing.T) {
	mgr, db := newTestManager(t)
	genesis := mgr.Root()

	require.NoError(t, mgr.KVPut([]byte("vault/state"), uint64(7)))
	root1, err := mgr.Commit()
	require.NoError(t, err)
	require.NotEqual(t, genesis, root1)
	require.Equal(t, uint64(1), mgr.Height())
	require.Zero(t, mgr.Pending())

	// Committing nothing keeps the root.
	same, err := mgr.Commit()
	require.NoError(t, err)
	require.Equal(t, root1, same)

	reopened, err := NewManager(db)
	require.NoError(t, err)
	require.Equal(t, root1, reopened.Root())
	require.Equal(t, uint64(1), reopened.Height())

	var v uint64
	ok, err := reopened.KVGet([]byte("vault/state"), &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), v)
}

func TestManagerAppendAndList(t *testing.T) {
	mgr, _ := newTestManager(t)
	var empty [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("x")))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("y")))
	require.NoError(t, mgr.KVAppend([]byte("idx"), []byte("x")))

	var list [][]byte
	require.NoError(t, mgr.KVGetList([]byte("idx"), &list))
	require.Equal(t, [][]byte{[]byte("x"), []byte("y")}, list)
}
