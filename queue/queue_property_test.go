package queue

import (
	"context"
	"testing"
	"time"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

// TestMutationQueue_IDsProperty drives a queue with random adds, removals,
// acknowledgments and restarts and checks it against a simple model.
func TestMutationQueue_IDsProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		st := store.NewRbMemoryStore()
		defer st.Close()
		q := New(st, testUser)
		if err := q.Start(ctx); err != nil {
			rt.Fatalf("start: %v", err)
		}

		var stored []*model.MutationBatch
		next := model.FirstBatchID
		acked := model.UnknownBatchID

		run := func(f func(ctx context.Context) error) {
			if err := store.RunInTxn(ctx, st, f); err != nil {
				rt.Fatalf("txn: %v", err)
			}
		}

		rt.Repeat(map[string]func(*rapid.T){
			"add": func(rt *rapid.T) {
				key := rapid.SampledFrom([]string{"a/1", "a/2", "b/1", "a/1/c/1"}).Draw(rt, "key")
				m, err := model.NewSetMutation(model.MustDocumentKey(key), map[string]any{"k": key})
				if err != nil {
					rt.Fatalf("mutation: %v", err)
				}
				run(func(ctx context.Context) error {
					b, err := q.AddMutationBatch(ctx, time.Now(), []model.Mutation{m})
					if err != nil {
						return err
					}
					if b.BatchID != next {
						rt.Fatalf("assigned %d, want %d", b.BatchID, next)
					}
					stored = append(stored, b)
					next++
					return nil
				})
			},
			"remove": func(rt *rapid.T) {
				if len(stored) == 0 {
					rt.Skip("empty")
				}
				i := rapid.IntRange(0, len(stored)-1).Draw(rt, "i")
				run(func(ctx context.Context) error {
					return q.RemoveMutationBatches(ctx, []*model.MutationBatch{stored[i]})
				})
				stored = append(stored[:i:i], stored[i+1:]...)
			},
			"ack": func(rt *rapid.T) {
				if next == model.FirstBatchID {
					rt.Skip("nothing issued")
				}
				id := model.BatchID(rapid.Int64Range(int64(model.FirstBatchID), int64(next-1)).Draw(rt, "id"))
				run(func(ctx context.Context) error {
					return q.AcknowledgeBatch(ctx, &model.MutationBatch{BatchID: id}, nil)
				})
				acked = max(acked, id)
			},
			"restart": func(rt *rapid.T) {
				q = New(st, testUser)
				if err := q.Start(ctx); err != nil {
					rt.Fatalf("start: %v", err)
				}
				if len(stored) == 0 {
					next = model.FirstBatchID
					acked = model.UnknownBatchID
				}
			},
			"": func(rt *rapid.T) {
				all, err := q.AllMutationBatches(ctx)
				if err != nil {
					rt.Fatalf("all: %v", err)
				}
				if got, want := model.BatchIDs(all), model.BatchIDs(stored); !assert.ObjectsAreEqual(want, got) {
					rt.Fatalf("stored ids %v, want %v", got, want)
				}
				gotNext, err := q.NextBatchID(ctx)
				if err != nil || gotNext != next {
					rt.Fatalf("next id %d (%v), want %d", gotNext, err, next)
				}
				gotAcked, err := q.HighestAcknowledgedBatchID(ctx)
				if err != nil || gotAcked != acked {
					rt.Fatalf("acked %d (%v), want %d", gotAcked, err, acked)
				}
				if acked >= next {
					rt.Fatalf("watermark %d reached next id %d", acked, next)
				}
			},
		})
	})
}

func TestMutationQueue_ConcurrentAdds(t *testing.T) {
	t.Parallel()
	eachBackend(t, func(t *testing.T, st store.TxnStore) {
		ctx := context.Background()
		q := startQueue(t, st, testUser)

		const workers, perWorker = 8, 25
		var eg errgroup.Group
		for w := 0; w < workers; w++ {
			w := w
			eg.Go(func() error {
				for i := 0; i < perWorker; i++ {
					m, err := model.NewSetMutation(model.MustDocumentKey("foo/bar"), map[string]any{"w": w})
					if err != nil {
						return err
					}
					err = store.RunInTxn(ctx, st, func(ctx context.Context) error {
						_, err := q.AddMutationBatch(ctx, time.Now(), []model.Mutation{m})
						return err
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, eg.Wait())

		all, err := q.AllMutationBatches(ctx)
		require.NoError(t, err)
		require.Len(t, all, workers*perWorker)
		for i, b := range all {
			assert.Equal(t, model.BatchID(i+1), b.BatchID)
		}
	})
}
