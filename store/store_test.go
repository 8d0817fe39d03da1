package store

import (
	"context"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T) TxnStore
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) TxnStore {
			return NewRbMemoryStore()
		}},
		{name: "bolt", open: func(t *testing.T) TxnStore {
			st, err := NewBoltStore(t.TempDir() + "/bolt.db")
			require.NoError(t, err)
			return st
		}},
		{name: "pebble", open: func(t *testing.T) TxnStore {
			st, err := NewPebbleStore("/pebble", WithPebbleFS(vfs.NewMem()))
			require.NoError(t, err)
			return st
		}},
	}
}

func eachBackend(t *testing.T, f func(t *testing.T, st TxnStore)) {
	t.Helper()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			st := b.open(t)
			defer st.Close()
			f(t, st)
		})
	}
}

func put(t *testing.T, st TxnStore, kvs ...string) {
	t.Helper()
	require.NoError(t, st.Txn(context.Background(), func(ctx context.Context, txn Txn) error {
		for i := 0; i+1 < len(kvs); i += 2 {
			if err := txn.Put(ctx, []byte(kvs[i]), []byte(kvs[i+1])); err != nil {
				return err
			}
		}
		return nil
	}))
}

func keysOf(pairs []*KVPair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, string(p.Key))
	}
	return out
}

func TestStore_PutGetDelete(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, st TxnStore) {
		ctx := context.Background()
		put(t, st, "foo", "bar")

		v, err := st.Get(ctx, []byte("foo"))
		require.NoError(t, err)
		assert.Equal(t, []byte("bar"), v)

		ok, err := st.Exists(ctx, []byte("foo"))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, st.Txn(ctx, func(ctx context.Context, txn Txn) error {
			return txn.Delete(ctx, []byte("foo"))
		}))

		_, err = st.Get(ctx, []byte("foo"))
		assert.ErrorIs(t, err, ErrKeyNotFound)
		ok, err = st.Exists(ctx, []byte("foo"))
		require.NoError(t, err)
		assert.False(t, ok)

		// deleting an absent key is not an error
		require.NoError(t, st.Txn(ctx, func(ctx context.Context, txn Txn) error {
			return txn.Delete(ctx, []byte("missing"))
		}))
	})
}

func TestStore_TxnRollback(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, st TxnStore) {
		ctx := context.Background()
		put(t, st, "keep", "1")

		boom := errors.New("boom")
		err := st.Txn(ctx, func(ctx context.Context, txn Txn) error {
			if err := txn.Put(ctx, []byte("new"), []byte("x")); err != nil {
				return err
			}
			if err := txn.Delete(ctx, []byte("keep")); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = st.Get(ctx, []byte("new"))
		assert.ErrorIs(t, err, ErrKeyNotFound)
		v, err := st.Get(ctx, []byte("keep"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
	})
}

func TestStore_TxnReadsOwnWrites(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, st TxnStore) {
		ctx := context.Background()
		put(t, st, "a", "1", "b", "2", "c", "3")

		require.NoError(t, st.Txn(ctx, func(ctx context.Context, txn Txn) error {
			require.NoError(t, txn.Put(ctx, []byte("bb"), []byte("x")))
			require.NoError(t, txn.Delete(ctx, []byte("c")))
			require.NoError(t, txn.Put(ctx, []byte("a"), []byte("9")))

			v, err := txn.Get(ctx, []byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("9"), v)

			_, err = txn.Get(ctx, []byte("c"))
			assert.ErrorIs(t, err, ErrKeyNotFound)

			ok, err := txn.Exists(ctx, []byte("bb"))
			require.NoError(t, err)
			assert.True(t, ok)

			res, err := txn.Scan(ctx, nil, nil, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "bb"}, keysOf(res))
			assert.Equal(t, []byte("9"), res[0].Value)

			rev, err := txn.ReverseScan(ctx, []byte("a"), []byte("bb"), 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, keysOf(rev))
			return nil
		}))

		res, err := st.Scan(ctx, nil, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "bb"}, keysOf(res))
	})
}

func TestStore_Scan(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, st TxnStore) {
		ctx := context.Background()
		kvs := make([]string, 0, 40)
		for i := 0; i < 20; i++ {
			kvs = append(kvs, "k"+strconv.Itoa(100+i), strconv.Itoa(i))
		}
		put(t, st, kvs...)
		put(t, st, "j", "before", "l", "after")

		res, err := st.Scan(ctx, []byte("k"), PrefixEnd([]byte("k")), 0)
		require.NoError(t, err)
		require.Len(t, res, 20)
		assert.Equal(t, "k100", string(res[0].Key))
		assert.Equal(t, "k119", string(res[19].Key))

		res, err = st.Scan(ctx, []byte("k105"), []byte("k110"), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"k105", "k106", "k107", "k108", "k109"}, keysOf(res))

		res, err = st.Scan(ctx, []byte("k"), nil, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"k100", "k101", "k102"}, keysOf(res))

		res, err = st.ReverseScan(ctx, []byte("k"), PrefixEnd([]byte("k")), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"k119", "k118"}, keysOf(res))

		res, err = st.ReverseScan(ctx, nil, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"l"}, keysOf(res))

		res, err = st.ReverseScan(ctx, []byte("k"), []byte("k100"), 0)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestPrefixEnd(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte("b"), PrefixEnd([]byte("a")))
	assert.Equal(t, []byte{0x01, 0x03}, PrefixEnd([]byte{0x01, 0x02, 0xff}))
	assert.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, PrefixEnd(nil))
}

func TestRunInTxn_JoinsOuterTransaction(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, st TxnStore) {
		ctx := context.Background()

		_, ok := TxnFromContext(ctx)
		assert.False(t, ok)
		assert.Equal(t, Reader(st), ReaderFromContext(ctx, st))

		boom := errors.New("boom")
		err := RunInTxn(ctx, st, func(ctx context.Context) error {
			outer, ok := TxnFromContext(ctx)
			require.True(t, ok)
			require.NoError(t, outer.Put(ctx, []byte("outer"), []byte("1")))

			require.NoError(t, RunInTxn(ctx, st, func(ctx context.Context) error {
				inner, ok := TxnFromContext(ctx)
				require.True(t, ok)
				assert.Same(t, outer, inner)
				return inner.Put(ctx, []byte("inner"), []byte("2"))
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		res, err := st.Scan(ctx, nil, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}
