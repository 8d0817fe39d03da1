package queue

import (
	"bytes"
	"context"
	"slices"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/store"
	"github.com/cockroachdb/errors"
)

// documentIndex maps document keys to the batches that touch them. It never
// opens transactions itself; writers pass the caller's txn.
type documentIndex struct {
	uid    string
	prefix []byte
}

func newDocumentIndex(uid string) documentIndex {
	return documentIndex{uid: uid, prefix: indexKeyPrefix(uid)}
}

func (ix documentIndex) add(ctx context.Context, txn store.Txn, key model.DocumentKey, id model.BatchID) error {
	return errors.WithStack(txn.Put(ctx, indexKey(ix.uid, key, id), indexEntryValue))
}

func (ix documentIndex) remove(ctx context.Context, txn store.Txn, key model.DocumentKey, id model.BatchID) error {
	return errors.WithStack(txn.Delete(ctx, indexKey(ix.uid, key, id)))
}

func (ix documentIndex) batchIDsForKey(ctx context.Context, r store.Reader, key model.DocumentKey) ([]model.BatchID, error) {
	start := indexPathPrefix(ix.uid, key.Path())
	kvs, err := r.Scan(ctx, start, store.PrefixEnd(start), 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ids := make([]model.BatchID, 0, len(kvs))
	for _, kv := range kvs {
		// Longer remainders belong to documents nested below key.
		if len(kv.Key)-len(start) != sortableInt64Bytes {
			continue
		}
		id, err := decodeSortableBatchID(kv.Key[len(start):])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// batchIDsForKeys resolves many keys with one range scan per chunk. Each scan
// spans the chunk's first to last key and keeps only entries whose document is
// in the chunk. The result is sorted and free of duplicates.
func (ix documentIndex) batchIDsForKeys(ctx context.Context, r store.Reader, keys []model.DocumentKey, chunkSize int) ([]model.BatchID, error) {
	encoded := make([][]byte, 0, len(keys))
	for _, k := range keys {
		encoded = append(encoded, encodePath(k.Path()))
	}
	slices.SortFunc(encoded, bytes.Compare)
	encoded = slices.CompactFunc(encoded, bytes.Equal)

	var ids []model.BatchID
	for len(encoded) > 0 {
		n := min(chunkSize, len(encoded))
		chunk := encoded[:n]
		encoded = encoded[n:]

		found, err := ix.scanChunk(ctx, r, chunk)
		if err != nil {
			return nil, err
		}
		ids = append(ids, found...)
	}

	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (ix documentIndex) scanChunk(ctx context.Context, r store.Reader, chunk [][]byte) ([]model.BatchID, error) {
	wanted := make(map[string]struct{}, len(chunk))
	for _, e := range chunk {
		wanted[string(e)] = struct{}{}
	}

	start := append(bytes.Clone(ix.prefix), chunk[0]...)
	end := store.PrefixEnd(append(bytes.Clone(ix.prefix), chunk[len(chunk)-1]...))
	kvs, err := r.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var ids []model.BatchID
	for _, kv := range kvs {
		path, id, err := splitIndexKey(ix.prefix, kv.Key)
		if err != nil {
			return nil, err
		}
		if _, ok := wanted[string(path)]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// batchIDsUnderCollection returns ids of batches touching documents that are
// immediate children of parent. Deeper descendants are skipped.
func (ix documentIndex) batchIDsUnderCollection(ctx context.Context, r store.Reader, parent model.ResourcePath) ([]model.BatchID, error) {
	start := indexPathPrefix(ix.uid, parent)
	kvs, err := r.Scan(ctx, start, store.PrefixEnd(start), 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var ids []model.BatchID
	for _, kv := range kvs {
		raw, id, err := splitIndexKey(ix.prefix, kv.Key)
		if err != nil {
			return nil, err
		}
		path, err := decodePath(raw)
		if err != nil {
			return nil, errors.Wrap(ErrIndexInconsistent, err.Error())
		}
		if !parent.IsImmediateParentOf(path) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// danglingEntries lists up to limit indexed document paths.
func (ix documentIndex) danglingEntries(ctx context.Context, r store.Reader, limit int) ([]string, error) {
	kvs, err := r.Scan(ctx, ix.prefix, store.PrefixEnd(ix.prefix), limit)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	paths := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		raw, _, err := splitIndexKey(ix.prefix, kv.Key)
		if err != nil {
			return nil, err
		}
		p, err := decodePath(raw)
		if err != nil {
			return nil, errors.Wrap(ErrIndexInconsistent, err.Error())
		}
		paths = append(paths, p.CanonicalString())
	}
	return paths, nil
}
