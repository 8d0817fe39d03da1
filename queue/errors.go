package queue

import "github.com/cockroachdb/errors"

var (
	ErrEmptyBatch           = errors.New("mutation batch has no mutations")
	ErrNoTransaction        = errors.New("operation requires an active transaction")
	ErrNotStarted           = errors.New("mutation queue not started")
	ErrBatchNotIssued       = errors.New("batch id was never issued by this queue")
	ErrCollectionGroupQuery = errors.New("collection group queries are not supported by the mutation queue")
	ErrIndexInconsistent    = errors.New("document mutation index is inconsistent with stored batches")
	ErrCorruptBatch         = errors.New("corrupt mutation batch record")
)
