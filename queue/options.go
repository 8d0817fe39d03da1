package queue

import "log/slog"

// DefaultLookupChunkSize bounds how many document keys one index scan covers.
const DefaultLookupChunkSize = 900

// Option configures a MutationQueue.
type Option func(*MutationQueue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *MutationQueue) {
		q.log = l
	}
}

// WithLookupChunkSize sets the number of keys resolved per index scan by
// AllMutationBatchesAffectingDocumentKeys. Non-positive sizes are ignored.
func WithLookupChunkSize(n int) Option {
	return func(q *MutationQueue) {
		if n > 0 {
			q.chunkSize = n
		}
	}
}
