package queue

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/store"
	"github.com/cockroachdb/errors"
)

const danglingReportLimit = 16

// MutationQueue is the durable queue of locally committed batches that the
// backend has not confirmed yet, scoped to one user. All state lives in the
// store, so handles for the same user share it and a rolled back transaction
// leaves nothing behind.
//
// Mutating calls must run inside a transaction carried by ctx (see
// store.WithTxn). Reads use that transaction when present and committed state
// otherwise.
type MutationQueue struct {
	st        store.TxnStore
	user      model.User
	index     documentIndex
	log       *slog.Logger
	chunkSize int
	started   atomic.Bool
}

// New returns a queue for user on st. Start must be called before use.
func New(st store.TxnStore, user model.User, opts ...Option) *MutationQueue {
	q := &MutationQueue{
		st:        st,
		user:      user,
		index:     newDocumentIndex(user.UID),
		chunkSize: DefaultLookupChunkSize,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(slog.String("uid", user.UID), slog.String("engine", st.Name()))
	return q
}

// User is the owner of the queue namespace.
func (q *MutationQueue) User() model.User { return q.user }

// Start recovers the queue from storage. When no batches are stored the id
// counter restarts at model.FirstBatchID and the acknowledgment watermark is
// cleared; otherwise the counter continues past the highest stored id. It is
// safe to call more than once.
func (q *MutationQueue) Start(ctx context.Context) error {
	err := store.RunInTxn(ctx, q.st, func(ctx context.Context) error {
		txn, _ := store.TxnFromContext(ctx)
		meta, err := loadMeta(ctx, txn, q.user.UID)
		if err != nil {
			return err
		}

		highest, ok, err := q.highestBatchID(ctx, txn)
		if err != nil {
			return err
		}
		if !ok {
			if meta.NextBatchID != model.FirstBatchID || meta.HighestAcknowledgedBatchID != model.UnknownBatchID {
				q.log.InfoContext(ctx, "resetting empty mutation queue",
					slog.Int64("next_batch_id", int64(meta.NextBatchID)),
					slog.Int64("acked_batch_id", int64(meta.HighestAcknowledgedBatchID)),
				)
			}
			meta.NextBatchID = model.FirstBatchID
			meta.HighestAcknowledgedBatchID = model.UnknownBatchID
		} else {
			meta.NextBatchID = max(meta.NextBatchID, highest+1)
		}
		return saveMeta(ctx, txn, q.user.UID, meta)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	q.started.Store(true)
	return nil
}

func (q *MutationQueue) checkStarted() error {
	if !q.started.Load() {
		return errors.WithStack(ErrNotStarted)
	}
	return nil
}

func (q *MutationQueue) writer(ctx context.Context) (store.Txn, error) {
	if err := q.checkStarted(); err != nil {
		return nil, err
	}
	txn, ok := store.TxnFromContext(ctx)
	if !ok {
		return nil, errors.WithStack(ErrNoTransaction)
	}
	return txn, nil
}

func (q *MutationQueue) reader(ctx context.Context) (store.Reader, error) {
	if err := q.checkStarted(); err != nil {
		return nil, err
	}
	return store.ReaderFromContext(ctx, q.st), nil
}

// AddMutationBatch stores mutations as a new batch with the next id.
func (q *MutationQueue) AddMutationBatch(ctx context.Context, writeTime time.Time, mutations []model.Mutation) (*model.MutationBatch, error) {
	txn, err := q.writer(ctx)
	if err != nil {
		return nil, err
	}
	if len(mutations) == 0 {
		return nil, errors.WithStack(ErrEmptyBatch)
	}
	for _, m := range mutations {
		if err := m.Validate(); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	meta, err := loadMeta(ctx, txn, q.user.UID)
	if err != nil {
		return nil, err
	}
	id := meta.NextBatchID
	if id == math.MaxInt64 {
		return nil, errors.Newf("batch id space exhausted")
	}
	meta.NextBatchID++
	if err := saveMeta(ctx, txn, q.user.UID, meta); err != nil {
		return nil, err
	}

	record, err := encodeBatch(model.NewMutationBatch(id, writeTime, mutations))
	if err != nil {
		return nil, err
	}
	// Hand back the decoded record: it owns its values and equals later reads.
	batch, err := decodeBatch(record)
	if err != nil {
		return nil, err
	}
	if err := txn.Put(ctx, batchKey(q.user.UID, id), record); err != nil {
		return nil, errors.WithStack(err)
	}
	for _, key := range batch.Keys() {
		if err := q.index.add(ctx, txn, key, id); err != nil {
			return nil, err
		}
	}

	batchCounter.WithLabelValues("add", q.st.Name()).Inc()
	batchSize.WithLabelValues(q.st.Name()).Observe(float64(len(mutations)))
	return batch, nil
}

// RemoveMutationBatches deletes the given batches and their index entries.
// Batches that are not stored are ignored. Once the queue is empty the index
// is checked for leftovers.
func (q *MutationQueue) RemoveMutationBatches(ctx context.Context, batches []*model.MutationBatch) error {
	txn, err := q.writer(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, b := range batches {
		stored, err := q.lookup(ctx, txn, b.BatchID)
		if err != nil {
			return err
		}
		if stored == nil {
			continue
		}
		// Index entries come from the stored copy, not the caller's.
		for _, key := range stored.Keys() {
			if err := q.index.remove(ctx, txn, key, stored.BatchID); err != nil {
				return err
			}
		}
		if err := txn.Delete(ctx, batchKey(q.user.UID, stored.BatchID)); err != nil {
			return errors.WithStack(err)
		}
		removed++
	}
	if removed == 0 {
		return nil
	}
	batchCounter.WithLabelValues("remove", q.st.Name()).Add(float64(removed))

	return q.CheckConsistency(ctx)
}

// CheckConsistency fails with ErrIndexInconsistent when the queue holds no
// batches but index entries remain.
func (q *MutationQueue) CheckConsistency(ctx context.Context) error {
	r, err := q.reader(ctx)
	if err != nil {
		return err
	}
	empty, err := q.isEmpty(ctx, r)
	if err != nil || !empty {
		return err
	}
	dangling, err := q.index.danglingEntries(ctx, r, danglingReportLimit)
	if err != nil {
		return err
	}
	if len(dangling) == 0 {
		return nil
	}
	q.log.ErrorContext(ctx, "document index has entries for an empty queue",
		slog.Any("paths", dangling),
	)
	return errors.Wrapf(ErrIndexInconsistent, "dangling entries for %v", dangling)
}

// LookupMutationBatch returns the batch with id, or nil when it is not stored.
func (q *MutationQueue) LookupMutationBatch(ctx context.Context, id model.BatchID) (*model.MutationBatch, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	return q.lookup(ctx, r, id)
}

func (q *MutationQueue) lookup(ctx context.Context, r store.Reader, id model.BatchID) (*model.MutationBatch, error) {
	b, err := r.Get(ctx, batchKey(q.user.UID, id))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	batch, err := decodeBatch(b)
	if err != nil {
		return nil, errors.Wrapf(err, "batch %d", id)
	}
	return batch, nil
}

// NextMutationBatchAfterBatchID returns the first stored batch whose id is
// above both id and the acknowledgment watermark, or nil.
func (q *MutationQueue) NextMutationBatchAfterBatchID(ctx context.Context, id model.BatchID) (*model.MutationBatch, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := loadMeta(ctx, r, q.user.UID)
	if err != nil {
		return nil, err
	}
	after := max(id, meta.HighestAcknowledgedBatchID)
	if after == math.MaxInt64 {
		return nil, nil
	}

	prefix := batchKeyPrefix(q.user.UID)
	batches, err := q.scanBatches(ctx, r, batchKey(q.user.UID, after+1), store.PrefixEnd(prefix), 1)
	if err != nil || len(batches) == 0 {
		return nil, err
	}
	return batches[0], nil
}

// AllMutationBatches returns every stored batch in id order.
func (q *MutationQueue) AllMutationBatches(ctx context.Context) ([]*model.MutationBatch, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	prefix := batchKeyPrefix(q.user.UID)
	return q.scanBatches(ctx, r, prefix, store.PrefixEnd(prefix), 0)
}

// AllMutationBatchesThroughBatchID returns stored batches with id <= id.
func (q *MutationQueue) AllMutationBatchesThroughBatchID(ctx context.Context, id model.BatchID) ([]*model.MutationBatch, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	prefix := batchKeyPrefix(q.user.UID)
	end := batchKeyAfter(q.user.UID, id)
	if end == nil {
		end = store.PrefixEnd(prefix)
	}
	return q.scanBatches(ctx, r, prefix, end, 0)
}

// AllMutationBatchesAffectingDocumentKey returns the batches touching key in
// id order. Documents nested below key do not match.
func (q *MutationQueue) AllMutationBatchesAffectingDocumentKey(ctx context.Context, key model.DocumentKey) ([]*model.MutationBatch, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := q.index.batchIDsForKey(ctx, r, key)
	if err != nil {
		return nil, err
	}
	return q.dereference(ctx, r, ids)
}

// AllMutationBatchesAffectingDocumentKeys returns, once each and in id order,
// the batches touching any of keys.
func (q *MutationQueue) AllMutationBatchesAffectingDocumentKeys(ctx context.Context, keys []model.DocumentKey) ([]*model.MutationBatch, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*model.MutationBatch{}, nil
	}
	ids, err := q.index.batchIDsForKeys(ctx, r, keys, q.chunkSize)
	if err != nil {
		return nil, err
	}
	return q.dereference(ctx, r, ids)
}

// AllMutationBatchesAffectingQuery returns batches touching documents directly
// inside the query's collection. Collection group queries are rejected.
func (q *MutationQueue) AllMutationBatchesAffectingQuery(ctx context.Context, query model.Query) ([]*model.MutationBatch, error) {
	if query.IsCollectionGroupQuery() {
		return nil, errors.WithStack(ErrCollectionGroupQuery)
	}
	r, err := q.reader(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := q.index.batchIDsUnderCollection(ctx, r, query.Path)
	if err != nil {
		return nil, err
	}
	return q.dereference(ctx, r, ids)
}

// AcknowledgeBatch raises the watermark to batch's id and records the stream
// token in the same write. Acknowledging below the watermark keeps it as is.
func (q *MutationQueue) AcknowledgeBatch(ctx context.Context, batch *model.MutationBatch, streamToken []byte) error {
	txn, err := q.writer(ctx)
	if err != nil {
		return err
	}
	meta, err := loadMeta(ctx, txn, q.user.UID)
	if err != nil {
		return err
	}
	if batch.BatchID < model.FirstBatchID || batch.BatchID >= meta.NextBatchID {
		return errors.Wrapf(ErrBatchNotIssued, "batch %d, next id %d", batch.BatchID, meta.NextBatchID)
	}
	meta.HighestAcknowledgedBatchID = max(meta.HighestAcknowledgedBatchID, batch.BatchID)
	meta.LastStreamToken = cloneToken(streamToken)
	if err := saveMeta(ctx, txn, q.user.UID, meta); err != nil {
		return err
	}
	batchCounter.WithLabelValues("ack", q.st.Name()).Inc()
	return nil
}

// HighestAcknowledgedBatchID is the acknowledgment watermark, or
// model.UnknownBatchID when nothing was acknowledged.
func (q *MutationQueue) HighestAcknowledgedBatchID(ctx context.Context) (model.BatchID, error) {
	meta, err := q.meta(ctx)
	if err != nil {
		return model.UnknownBatchID, err
	}
	return meta.HighestAcknowledgedBatchID, nil
}

// NextBatchID is the id the next AddMutationBatch will assign.
func (q *MutationQueue) NextBatchID(ctx context.Context) (model.BatchID, error) {
	meta, err := q.meta(ctx)
	if err != nil {
		return model.UnknownBatchID, err
	}
	return meta.NextBatchID, nil
}

// LastStreamToken returns a copy of the stored token, EmptyStreamToken if unset.
func (q *MutationQueue) LastStreamToken(ctx context.Context) ([]byte, error) {
	meta, err := q.meta(ctx)
	if err != nil {
		return nil, err
	}
	return cloneToken(meta.LastStreamToken), nil
}

// SetLastStreamToken stores token without touching the watermark.
func (q *MutationQueue) SetLastStreamToken(ctx context.Context, token []byte) error {
	txn, err := q.writer(ctx)
	if err != nil {
		return err
	}
	meta, err := loadMeta(ctx, txn, q.user.UID)
	if err != nil {
		return err
	}
	meta.LastStreamToken = cloneToken(token)
	return saveMeta(ctx, txn, q.user.UID, meta)
}

// IsEmpty reports whether no batches are stored.
func (q *MutationQueue) IsEmpty(ctx context.Context) (bool, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return false, err
	}
	return q.isEmpty(ctx, r)
}

func (q *MutationQueue) isEmpty(ctx context.Context, r store.Reader) (bool, error) {
	prefix := batchKeyPrefix(q.user.UID)
	kvs, err := r.Scan(ctx, prefix, store.PrefixEnd(prefix), 1)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return len(kvs) == 0, nil
}

func (q *MutationQueue) meta(ctx context.Context) (queueMeta, error) {
	r, err := q.reader(ctx)
	if err != nil {
		return queueMeta{}, err
	}
	return loadMeta(ctx, r, q.user.UID)
}

func (q *MutationQueue) highestBatchID(ctx context.Context, r store.Reader) (model.BatchID, bool, error) {
	prefix := batchKeyPrefix(q.user.UID)
	kvs, err := r.ReverseScan(ctx, prefix, store.PrefixEnd(prefix), 1)
	if err != nil {
		return 0, false, errors.WithStack(err)
	}
	if len(kvs) == 0 {
		return 0, false, nil
	}
	id, err := batchIDFromKey(prefix, kvs[0].Key)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (q *MutationQueue) scanBatches(ctx context.Context, r store.Reader, start, end []byte, limit int) ([]*model.MutationBatch, error) {
	kvs, err := r.Scan(ctx, start, end, limit)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	prefix := batchKeyPrefix(q.user.UID)
	batches := make([]*model.MutationBatch, 0, len(kvs))
	for _, kv := range kvs {
		batch, err := decodeBatch(kv.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "key %x", kv.Key)
		}
		id, err := batchIDFromKey(prefix, kv.Key)
		if err != nil {
			return nil, err
		}
		if id != batch.BatchID {
			return nil, errors.Wrapf(ErrCorruptBatch, "record for batch %d stored under %d", batch.BatchID, id)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// dereference loads the batches for sorted, distinct ids. An id without a
// stored batch means the index and the batches disagree.
func (q *MutationQueue) dereference(ctx context.Context, r store.Reader, ids []model.BatchID) ([]*model.MutationBatch, error) {
	batches := make([]*model.MutationBatch, 0, len(ids))
	for _, id := range ids {
		batch, err := q.lookup(ctx, r, id)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			q.log.ErrorContext(ctx, "document index points at a missing batch", slog.Int64("batch_id", int64(id)))
			return nil, errors.Wrapf(ErrIndexInconsistent, "batch %d is indexed but not stored", id)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func cloneToken(token []byte) []byte {
	if len(token) == 0 {
		return EmptyStreamToken
	}
	return bytes.Clone(token)
}
