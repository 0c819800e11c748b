package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(dir, "ledger.bolt"))
	require.NoError(t, err)
	dbs := map[string]Database{
		BackendMemory:  NewMemDB(),
		BackendLevelDB: level,
		BackendBolt:    bolt,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			db.Close()
		}
	})
	return dbs
}

func TestDatabaseConformance(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

			require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
			value, err := db.Get([]byte("a/1"))
			require.NoError(t, err)
			require.Equal(t, []byte("one"), value)

			ok, err := db.Has([]byte("a/1"))
			require.NoError(t, err)
			require.True(t, ok)

			batch := db.NewBatch()
			batch.Put([]byte("a/3"), []byte("three"))
			batch.Put([]byte("a/2"), []byte("two"))
			batch.Put([]byte("b/1"), []byte("other"))
			batch.Delete([]byte("a/1"))
			require.Equal(t, 4, batch.Len())
			require.NoError(t, batch.Write())

			var keys []string
			require.NoError(t, db.Iterate([]byte("a/"), func(key, value []byte) error {
				keys = append(keys, string(key))
				return nil
			}))
			require.Equal(t, []string{"a/2", "a/3"}, keys)

			require.NoError(t, db.Delete([]byte("a/2")))
			ok, err = db.Has([]byte("a/2"))
			require.NoError(t, err)
			require.False(t, ok)

			stop := errors.New("stop")
			err = db.Iterate([]byte("a/"), func(key, value []byte) error { return stop })
			require.ErrorIs(t, err, stop)
		})
	}
}

func TestOpenBackends(t *testing.T) {
	db, err := Open("", "")
	require.NoError(t, err)
	require.IsType(t, &MemDB{}, db)

	_, err = Open(BackendLevelDB, "")
	require.Error(t, err)

	_, err = Open("rocks", "x")
	require.Error(t, err)

	bolt, err := Open(BackendBolt, filepath.Join(t.TempDir(), "x.bolt"))
	require.NoError(t, err)
	bolt.Close()
}
