package store

import (
	"context"

	"github.com/cockroachdb/errors"
)

type txnContextKey struct{}

// WithTxn returns a context carrying txn as the active transaction.
func WithTxn(ctx context.Context, txn Txn) context.Context {
	return context.WithValue(ctx, txnContextKey{}, txn)
}

// TxnFromContext returns the active transaction, if any.
func TxnFromContext(ctx context.Context) (Txn, bool) {
	txn, ok := ctx.Value(txnContextKey{}).(Txn)
	return txn, ok && txn != nil
}

// ReaderFromContext returns the active transaction or, outside one, st itself.
func ReaderFromContext(ctx context.Context, st Reader) Reader {
	if txn, ok := TxnFromContext(ctx); ok {
		return txn
	}
	return st
}

// RunInTxn runs f inside the transaction already carried by ctx, or opens a new
// one on st. Nested calls therefore join the outermost transaction.
func RunInTxn(ctx context.Context, st TxnStore, f func(ctx context.Context) error) error {
	if _, ok := TxnFromContext(ctx); ok {
		return f(ctx)
	}
	return errors.WithStack(st.Txn(ctx, func(ctx context.Context, txn Txn) error {
		return f(WithTxn(ctx, txn))
	}))
}
