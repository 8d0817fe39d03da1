package adapter

import (
	"context"
	"time"

	"github.com/bootjp/pendingq/model"
	"github.com/cockroachdb/errors"
)

func (r *RedisServer) user(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	if len(args) == 1 {
		return redisResult{typ: resultBulk, bulk: []byte(state.user.UID)}, nil
	}
	state.user = model.User{UID: string(args[1])}
	state.queue = nil
	if _, err := r.queueFor(ctx, state); err != nil {
		return redisResult{}, err
	}
	return okResult(), nil
}

func (r *RedisServer) length(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	all, err := q.AllMutationBatches(ctx)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return intResult(int64(len(all))), nil
}

func (r *RedisServer) empty(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	ok, err := q.IsEmpty(ctx)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return boolResult(ok), nil
}

func (r *RedisServer) nextID(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	id, err := q.NextBatchID(ctx)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return intResult(int64(id)), nil
}

func (r *RedisServer) acked(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	id, err := q.HighestAcknowledgedBatchID(ctx)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return intResult(int64(id)), nil
}

func (r *RedisServer) token(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	tok, err := q.LastStreamToken(ctx)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return redisResult{typ: resultBulk, bulk: tok}, nil
}

func (r *RedisServer) setToken(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	if err := q.SetLastStreamToken(ctx, args[1]); err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return okResult(), nil
}

func (r *RedisServer) addBatch(ctx context.Context, state *connState, mutations []model.Mutation) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batch, err := q.AddMutationBatch(ctx, time.Now(), mutations)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return intResult(int64(batch.BatchID)), nil
}

// PQ.ADD '[{"op":"set","key":"a/b","value":{...}}, ...]' adds one batch.
func (r *RedisServer) add(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	mutations, err := decodeMutations(args[1])
	if err != nil {
		return redisResult{}, err
	}
	return r.addBatch(ctx, state, mutations)
}

func (r *RedisServer) set(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	m, err := decodeMutation(mutationJSON{Op: "set", Key: string(args[1]), Value: args[2]})
	if err != nil {
		return redisResult{}, err
	}
	return r.addBatch(ctx, state, []model.Mutation{m})
}

// PQ.PATCH key json [field ...]
func (r *RedisServer) patch(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	mask := make([]string, 0, len(args)-3)
	for _, f := range args[3:] {
		mask = append(mask, string(f))
	}
	m, err := decodeMutation(mutationJSON{Op: "patch", Key: string(args[1]), Value: args[2], Mask: mask})
	if err != nil {
		return redisResult{}, err
	}
	return r.addBatch(ctx, state, []model.Mutation{m})
}

func (r *RedisServer) del(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	key, err := parseDocumentKey(args[1])
	if err != nil {
		return redisResult{}, err
	}
	return r.addBatch(ctx, state, []model.Mutation{model.NewDeleteMutation(key)})
}

func (r *RedisServer) get(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	id, err := parseBatchID(args[1])
	if err != nil {
		return redisResult{}, err
	}
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batch, err := q.LookupMutationBatch(ctx, id)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return batchResult(batch)
}

func (r *RedisServer) next(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	id, err := parseBatchID(args[1])
	if err != nil {
		return redisResult{}, err
	}
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batch, err := q.NextMutationBatchAfterBatchID(ctx, id)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return batchResult(batch)
}

func (r *RedisServer) all(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batches, err := q.AllMutationBatches(ctx)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return batchesResult(batches)
}

func (r *RedisServer) through(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	id, err := parseBatchID(args[1])
	if err != nil {
		return redisResult{}, err
	}
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batches, err := q.AllMutationBatchesThroughBatchID(ctx, id)
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return batchesResult(batches)
}

// PQ.DOC key [key ...]
func (r *RedisServer) doc(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	keys := make([]model.DocumentKey, 0, len(args)-1)
	for _, a := range args[1:] {
		k, err := parseDocumentKey(a)
		if err != nil {
			return redisResult{}, err
		}
		keys = append(keys, k)
	}
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}

	var batches []*model.MutationBatch
	if len(keys) == 1 {
		batches, err = q.AllMutationBatchesAffectingDocumentKey(ctx, keys[0])
	} else {
		batches, err = q.AllMutationBatchesAffectingDocumentKeys(ctx, keys)
	}
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return batchesResult(batches)
}

func (r *RedisServer) query(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	path, err := model.ParsePath(string(args[1]))
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batches, err := q.AllMutationBatchesAffectingQuery(ctx, model.QueryAtPath(path))
	if err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return batchesResult(batches)
}

// PQ.ACK id [token]
func (r *RedisServer) ack(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	id, err := parseBatchID(args[1])
	if err != nil {
		return redisResult{}, err
	}
	var tok []byte
	if len(args) > 2 {
		tok = args[2]
	}
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	if err := q.AcknowledgeBatch(ctx, &model.MutationBatch{BatchID: id}, tok); err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return okResult(), nil
}

// PQ.REMOVE id [id ...] replies with the number of batches that were stored.
func (r *RedisServer) remove(ctx context.Context, state *connState, args [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	batches := make([]*model.MutationBatch, 0, len(args)-1)
	for _, a := range args[1:] {
		id, err := parseBatchID(a)
		if err != nil {
			return redisResult{}, err
		}
		b, err := q.LookupMutationBatch(ctx, id)
		if err != nil {
			return redisResult{}, errors.WithStack(err)
		}
		if b != nil {
			batches = append(batches, b)
		}
	}
	if err := q.RemoveMutationBatches(ctx, batches); err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return intResult(int64(len(batches))), nil
}

func (r *RedisServer) check(ctx context.Context, state *connState, _ [][]byte) (redisResult, error) {
	q, err := r.queueFor(ctx, state)
	if err != nil {
		return redisResult{}, err
	}
	if err := q.CheckConsistency(ctx); err != nil {
		return redisResult{}, errors.WithStack(err)
	}
	return okResult(), nil
}

func batchResult(b *model.MutationBatch) (redisResult, error) {
	if b == nil {
		return redisResult{typ: resultNil}, nil
	}
	s, err := encodeBatchJSON(b)
	if err != nil {
		return redisResult{}, err
	}
	return redisResult{typ: resultBulk, bulk: []byte(s)}, nil
}

func batchesResult(batches []*model.MutationBatch) (redisResult, error) {
	arr, err := encodeBatchesJSON(batches)
	if err != nil {
		return redisResult{}, err
	}
	return redisResult{typ: resultArray, arr: arr}, nil
}
