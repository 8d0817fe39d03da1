package queue

import (
	"context"
	"encoding/json"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/store"
	"github.com/cockroachdb/errors"
)

// EmptyStreamToken is the token of a queue that never talked to the backend.
var EmptyStreamToken = []byte{}

type queueMeta struct {
	NextBatchID                model.BatchID `json:"next"`
	HighestAcknowledgedBatchID model.BatchID `json:"acked"`
	LastStreamToken            []byte        `json:"token"`
}

func newQueueMeta() queueMeta {
	return queueMeta{
		NextBatchID:                model.FirstBatchID,
		HighestAcknowledgedBatchID: model.UnknownBatchID,
		LastStreamToken:            EmptyStreamToken,
	}
}

func marshalQueueMeta(meta queueMeta) ([]byte, error) {
	if meta.NextBatchID < model.FirstBatchID {
		return nil, errors.Newf("queue meta next batch id %d below first id", meta.NextBatchID)
	}
	if meta.HighestAcknowledgedBatchID >= meta.NextBatchID {
		return nil, errors.Newf("queue meta watermark %d not below next id %d",
			meta.HighestAcknowledgedBatchID, meta.NextBatchID)
	}
	b, err := json.Marshal(meta)
	return b, errors.WithStack(err)
}

func unmarshalQueueMeta(b []byte) (queueMeta, error) {
	var meta queueMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return queueMeta{}, errors.Wrap(err, "unmarshal queue meta")
	}
	if meta.LastStreamToken == nil {
		meta.LastStreamToken = EmptyStreamToken
	}
	return meta, nil
}

// loadMeta returns the persisted metadata, or the fresh-queue defaults when
// nothing was persisted yet.
func loadMeta(ctx context.Context, r store.Reader, uid string) (queueMeta, error) {
	b, err := r.Get(ctx, metaKey(uid))
	if errors.Is(err, store.ErrKeyNotFound) {
		return newQueueMeta(), nil
	}
	if err != nil {
		return queueMeta{}, errors.WithStack(err)
	}
	return unmarshalQueueMeta(b)
}

func saveMeta(ctx context.Context, txn store.Txn, uid string, meta queueMeta) error {
	b, err := marshalQueueMeta(meta)
	if err != nil {
		return err
	}
	return errors.WithStack(txn.Put(ctx, metaKey(uid), b))
}
