package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestBolt_UpdateAndView(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	committed := false

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		tx.OnCommit(func() { committed = true })

		require.NoError(t, bucket.Set([]byte("ping"), []byte("pong")))
		require.NoError(t, bucket.Set([]byte("pong"), []byte("ping")))

		return nil
	})
	require.NoError(t, err)
	require.True(t, committed)

	err = db.View(func(tx ReadableTx) error {
		require.Nil(t, tx.GetBucket([]byte("unknown")))

		bucket := tx.GetBucket([]byte("bucket"))
		require.NotNil(t, bucket)
		require.Equal(t, []byte("pong"), bucket.Get([]byte("ping")))
		require.Nil(t, bucket.Get([]byte("unknown")))

		return nil
	})
	require.NoError(t, err)
}

func TestBolt_Rollback(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, bucket.Set([]byte("A"), []byte{1}))

		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")

	err = db.View(func(tx ReadableTx) error {
		require.Nil(t, tx.GetBucket([]byte("bucket")))
		return nil
	})
	require.NoError(t, err)
}

func TestBolt_Delete(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, bucket.Set([]byte("A"), []byte{1}))
		require.NoError(t, bucket.Delete([]byte("A")))
		require.Nil(t, bucket.Get([]byte("A")))

		return nil
	})
	require.NoError(t, err)
}

func TestBolt_Scan(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		for _, key := range []string{"a:2", "a:1", "b:1", "a:3"} {
			require.NoError(t, bucket.Set([]byte(key), []byte(key)))
		}

		keys := []string{}
		err = bucket.Scan([]byte("a:"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"a:1", "a:2", "a:3"}, keys)

		keys = keys[:0]
		err = bucket.Scan([]byte("c:"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		require.NoError(t, err)
		require.Empty(t, keys)

		err = bucket.Scan([]byte("a:"), func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.EqualError(t, err, "callback failed: oops")

		return nil
	})
	require.NoError(t, err)
}

func TestBolt_Snapshot(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	var value []byte

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		snap := NewSnapshot(bucket)
		require.NoError(t, snap.Set([]byte("A"), []byte{1}))
		require.NoError(t, snap.Set([]byte("B"), []byte{2}))
		require.NoError(t, snap.Delete([]byte("B")))

		value, err = snap.Get([]byte("A"))
		require.NoError(t, err)

		missing, err := snap.Get([]byte("B"))
		require.NoError(t, err)
		require.Nil(t, missing)

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)
}

func TestBolt_Close(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	require.NoError(t, db.Close())

	err = db.View(func(ReadableTx) error { return nil })
	require.Error(t, err)
}

func TestBolt_BadPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "test.db"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to open db: ")
}
