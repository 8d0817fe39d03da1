package store

import (
	"context"

	"github.com/cockroachdb/errors"
)

var ErrKeyNotFound = errors.New("not found")
var ErrUnknownOp = errors.New("unknown op")
var ErrClosed = errors.New("store closed")

type KVPair struct {
	Key   []byte
	Value []byte
}

// OpType describes a buffered write kind.
type OpType int

const (
	OpTypePut OpType = iota
	OpTypeDelete
)

// Reader is the read surface shared by stores and open transactions.
// Scan ranges are half open: [start, end). A nil end means "to the last key"
// and a non-positive limit means "no limit".
type Reader interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Exists(ctx context.Context, key []byte) (bool, error)
	Scan(ctx context.Context, start []byte, end []byte, limit int) ([]*KVPair, error)
	// ReverseScan returns pairs of [start, end) from the highest key down.
	ReverseScan(ctx context.Context, start []byte, end []byte, limit int) ([]*KVPair, error)
}

// Txn is a unit of work whose writes become visible together on commit.
// Reads through a Txn observe its own buffered writes.
type Txn interface {
	Reader
	Put(ctx context.Context, key []byte, value []byte) error
	Delete(ctx context.Context, key []byte) error
}

// TxnStore is an ordered key-value backend with all-or-nothing transactions.
// Reads on the store itself only observe committed state.
type TxnStore interface {
	Reader
	// Txn runs f inside a single write transaction. If f returns an error
	// nothing it wrote is applied.
	Txn(ctx context.Context, f func(ctx context.Context, txn Txn) error) error
	Name() string
	Close() error
}

// PrefixEnd returns the smallest key greater than every key starting with prefix,
// or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func unlimited(limit int) bool { return limit <= 0 }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
