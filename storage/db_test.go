package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.Equal(t, 2, batch.Len())

	// Nothing is visible before Write.
	_, err = db.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, batch.Write())
	got, err = db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	_, err = db.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Delete([]byte("b")))
	_, err = db.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemDBBatch(t *testing.T) {
	exerciseDatabase(t, NewMemDB())
}

func TestLevelDBBatchPersists(t *testing.T) {
	dir := t.TempDir()
	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	exerciseDatabase(t, db)

	batch := db.NewBatch()
	batch.Put([]byte("persist"), []byte("yes"))
	require.NoError(t, batch.Write())
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("persist"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), got)
}

func TestMemDBGetReturnsCopy(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("k"), []byte("abc")))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	got[0] = 'z'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestBoltDBBatchPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(EngineBolt, path)
	require.NoError(t, err)
	exerciseDatabase(t, db)

	batch := db.NewBatch()
	batch.Put([]byte("persist"), []byte("yes"))
	require.NoError(t, batch.Write())
	db.Close()

	reopened, err := NewBoltDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("persist"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), got)
}

func TestOpenRejectsUnknownEngine(t *testing.T) {
	_, err := Open("rocks", t.TempDir())
	require.ErrorIs(t, err, ErrUnknownEngine)
}
