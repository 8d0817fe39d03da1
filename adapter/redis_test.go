package adapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bootjp/pendingq/persistence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBatch(t *testing.T, s string) batchJSON {
	t.Helper()
	var b batchJSON
	require.NoError(t, json.Unmarshal([]byte(s), &b))
	return b
}

func decodeBatches(t *testing.T, v any) []batchJSON {
	t.Helper()
	arr, ok := v.([]interface{})
	require.True(t, ok, "expected array reply, got %T", v)
	out := make([]batchJSON, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		require.True(t, ok)
		out = append(out, decodeBatch(t, s))
	}
	return out
}

func batchIDs(batches []batchJSON) []int64 {
	ids := make([]int64, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestRedis_Ping(t *testing.T) {
	t.Parallel()
	n := createNode(t, persistence.Config{Engine: persistence.EngineMemory})
	rdb := newClient(t, n)

	res, err := rdb.Do(context.Background(), "PING").Result()
	require.NoError(t, err)
	assert.Equal(t, "PONG", res)
}

func TestRedis_AddLookupRemove(t *testing.T) {
	t.Parallel()
	for _, engine := range []persistence.Engine{persistence.EngineMemory, persistence.EngineBolt, persistence.EnginePebble} {
		engine := engine
		t.Run(string(engine), func(t *testing.T) {
			t.Parallel()
			n := createNode(t, persistence.Config{Engine: engine, DataDir: t.TempDir()})
			rdb := newClient(t, n)
			ctx := context.Background()

			empty, err := rdb.Do(ctx, "PQ.EMPTY").Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(1), empty)

			id, err := rdb.Do(ctx, "PQ.SET", "rooms/eros", `{"name":"Eros","n":2}`).Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(1), id)

			id, err = rdb.Do(ctx, "PQ.PATCH", "rooms/eros", `{"n":3}`, "n").Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(2), id)

			id, err = rdb.Do(ctx, "PQ.DEL", "rooms/other").Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(3), id)

			raw, err := rdb.Do(ctx, "PQ.GET", "1").Text()
			require.NoError(t, err)
			b := decodeBatch(t, raw)
			assert.Equal(t, int64(1), b.ID)
			require.Len(t, b.Mutations, 1)
			assert.Equal(t, "set", b.Mutations[0].Op)
			assert.Equal(t, "rooms/eros", b.Mutations[0].Key)
			assert.JSONEq(t, `{"name":"Eros","n":2}`, string(b.Mutations[0].Value))

			raw, err = rdb.Do(ctx, "PQ.GET", "2").Text()
			require.NoError(t, err)
			assert.Equal(t, []string{"n"}, decodeBatch(t, raw).Mutations[0].Mask)

			_, err = rdb.Do(ctx, "PQ.GET", "42").Result()
			assert.Equal(t, redis.Nil, err)

			length, err := rdb.Do(ctx, "PQ.LEN").Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(3), length)

			removed, err := rdb.Do(ctx, "PQ.REMOVE", "2", "9").Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			res, err := rdb.Do(ctx, "PQ.ALL").Result()
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 3}, batchIDs(decodeBatches(t, res)))

			res, err = rdb.Do(ctx, "PQ.THROUGH", "1").Result()
			require.NoError(t, err)
			assert.Equal(t, []int64{1}, batchIDs(decodeBatches(t, res)))

			require.NoError(t, rdb.Do(ctx, "PQ.CHECK").Err())
		})
	}
}

func TestRedis_AddBatchOfMutations(t *testing.T) {
	t.Parallel()
	n := createNode(t, persistence.Config{Engine: persistence.EngineMemory})
	rdb := newClient(t, n)
	ctx := context.Background()

	id, err := rdb.Do(ctx, "PQ.ADD", `[
		{"op":"set","key":"foo/bar","value":{"a":1}},
		{"op":"patch","key":"foo/baz","value":{"b":true},"mask":["b"]},
		{"op":"delete","key":"foo/bar/sub/doc"}
	]`).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	raw, err := rdb.Do(ctx, "PQ.GET", "1").Text()
	require.NoError(t, err)
	b := decodeBatch(t, raw)
	require.Len(t, b.Mutations, 3)
	assert.Equal(t, "delete", b.Mutations[2].Op)
	assert.Empty(t, b.Mutations[2].Value)

	err = rdb.Do(ctx, "PQ.ADD", `[]`).Err()
	assert.ErrorContains(t, err, "no mutations")
	err = rdb.Do(ctx, "PQ.ADD", `[{"op":"upsert","key":"foo/bar"}]`).Err()
	assert.ErrorContains(t, err, "unknown mutation type")
	err = rdb.Do(ctx, "PQ.SET", "foo", `{}`).Err()
	assert.ErrorContains(t, err, "invalid resource path")
}

func TestRedis_DocumentAndQueryLookups(t *testing.T) {
	t.Parallel()
	n := createNode(t, persistence.Config{Engine: persistence.EngineMemory})
	rdb := newClient(t, n)
	ctx := context.Background()

	for _, key := range []string{"fob/bar", "foo/bar", "foo/baz", "foo/bar/suffix/key", "food/bar"} {
		require.NoError(t, rdb.Do(ctx, "PQ.SET", key, `{}`).Err())
	}

	res, err := rdb.Do(ctx, "PQ.DOC", "foo/bar").Result()
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, batchIDs(decodeBatches(t, res)))

	res, err = rdb.Do(ctx, "PQ.DOC", "foo/baz", "foo/bar", "food/bar").Result()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 5}, batchIDs(decodeBatches(t, res)))

	res, err = rdb.Do(ctx, "PQ.QUERY", "foo").Result()
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, batchIDs(decodeBatches(t, res)))
}

func TestRedis_AcknowledgeAndToken(t *testing.T) {
	t.Parallel()
	n := createNode(t, persistence.Config{Engine: persistence.EngineMemory})
	rdb := newClient(t, n)
	ctx := context.Background()

	acked, err := rdb.Do(ctx, "PQ.ACKED").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), acked)

	for i := 0; i < 3; i++ {
		require.NoError(t, rdb.Do(ctx, "PQ.SET", "foo/bar", `{}`).Err())
	}
	require.NoError(t, rdb.Do(ctx, "PQ.ACK", "2", "tok-2").Err())
	require.NoError(t, rdb.Do(ctx, "PQ.ACK", "1").Err())

	acked, err = rdb.Do(ctx, "PQ.ACKED").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), acked)

	raw, err := rdb.Do(ctx, "PQ.NEXT", "-1").Text()
	require.NoError(t, err)
	assert.Equal(t, int64(3), decodeBatch(t, raw).ID)

	tok, err := rdb.Do(ctx, "PQ.TOKEN").Text()
	require.NoError(t, err)
	assert.Equal(t, "", tok)

	require.NoError(t, rdb.Do(ctx, "PQ.SETTOKEN", "manual").Err())
	tok, err = rdb.Do(ctx, "PQ.TOKEN").Text()
	require.NoError(t, err)
	assert.Equal(t, "manual", tok)

	err = rdb.Do(ctx, "PQ.ACK", "4").Err()
	assert.ErrorContains(t, err, "never issued")

	next, err := rdb.Do(ctx, "PQ.NEXTID").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
}

func TestRedis_UsersAreIsolated(t *testing.T) {
	t.Parallel()
	n := createNode(t, persistence.Config{Engine: persistence.EngineMemory})
	ctx := context.Background()
	alice := newClient(t, n)
	bob := newClient(t, n)

	require.NoError(t, alice.Do(ctx, "PQ.USER", "alice").Err())
	require.NoError(t, bob.Do(ctx, "PQ.USER", "bob").Err())
	uid, err := alice.Do(ctx, "PQ.USER").Text()
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	require.NoError(t, alice.Do(ctx, "PQ.SET", "foo/bar", `{}`).Err())

	length, err := alice.Do(ctx, "PQ.LEN").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
	length, err = bob.Do(ctx, "PQ.LEN").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestRedis_ArgumentValidation(t *testing.T) {
	t.Parallel()
	n := createNode(t, persistence.Config{Engine: persistence.EngineMemory})
	rdb := newClient(t, n)
	ctx := context.Background()

	assert.ErrorContains(t, rdb.Do(ctx, "PQ.GET").Err(), "wrong number of arguments")
	assert.ErrorContains(t, rdb.Do(ctx, "PQ.GET", "x").Err(), "invalid batch id")
	assert.ErrorContains(t, rdb.Do(ctx, "NOPE").Err(), "unsupported command")
}
