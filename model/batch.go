package model

import (
	"time"
)

// BatchID identifies a mutation batch within one queue namespace.
type BatchID int64

const (
	// UnknownBatchID means "no batch": nothing acknowledged yet, or search from the start.
	UnknownBatchID BatchID = -1
	// FirstBatchID is the id handed out by an empty queue.
	FirstBatchID BatchID = 1
)

// MutationBatch is an ordered group of mutations applied atomically. It is
// immutable once created by the queue.
type MutationBatch struct {
	BatchID        BatchID
	LocalWriteTime time.Time
	Mutations      []Mutation
}

// NewMutationBatch builds a batch, normalising the write time so that it
// survives an encode/decode cycle unchanged.
func NewMutationBatch(id BatchID, writeTime time.Time, mutations []Mutation) *MutationBatch {
	return &MutationBatch{
		BatchID:        id,
		LocalWriteTime: NormalizeTime(writeTime),
		Mutations:      append([]Mutation(nil), mutations...),
	}
}

// NormalizeTime drops the monotonic reading and location.
func NormalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}

// Keys returns the distinct document keys touched by the batch, in key order.
func (b *MutationBatch) Keys() []DocumentKey {
	keys := make([]DocumentKey, 0, len(b.Mutations))
	for _, m := range b.Mutations {
		keys = append(keys, m.Key)
	}
	return SortDocumentKeys(keys)
}

// Affects reports whether any mutation targets key.
func (b *MutationBatch) Affects(key DocumentKey) bool {
	for _, m := range b.Mutations {
		if m.Key.Equal(key) {
			return true
		}
	}
	return false
}

// BatchIDs extracts the ids of batches, preserving order.
func BatchIDs(batches []*MutationBatch) []BatchID {
	ids := make([]BatchID, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.BatchID)
	}
	return ids
}
