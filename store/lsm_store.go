package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const dirPerms = 0755

// pebbleStore implements TxnStore on CockroachDB's Pebble LSM tree. A
// transaction is an indexed batch, so it can read its own writes, committed
// with pebble.Sync.
type pebbleStore struct {
	db  *pebble.DB
	log *slog.Logger
	// serialises write transactions; pebble batches do not detect conflicts.
	mtx sync.Mutex
	dir string
	fs  vfs.FS
}

var _ TxnStore = (*pebbleStore)(nil)

// PebbleStoreOption configures the PebbleStore.
type PebbleStoreOption func(*pebbleStore)

// WithPebbleLogger sets a custom logger.
func WithPebbleLogger(l *slog.Logger) PebbleStoreOption {
	return func(s *pebbleStore) {
		s.log = l
	}
}

// WithPebbleFS swaps the filesystem, e.g. vfs.NewMem() in tests.
func WithPebbleFS(fs vfs.FS) PebbleStoreOption {
	return func(s *pebbleStore) {
		s.fs = fs
	}
}

// NewPebbleStore opens a Pebble-backed store in dir.
func NewPebbleStore(dir string, opts ...PebbleStoreOption) (TxnStore, error) {
	s := &pebbleStore{
		dir: dir,
		fs:  vfs.Default,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fs == vfs.Default {
		if err := os.MkdirAll(dir, dirPerms); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	pebbleOpts := &pebble.Options{
		FS: s.fs,
	}
	pebbleOpts.EnsureDefaults()

	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	s.db = db
	return s, nil
}

// pebbleReader is satisfied by *pebble.DB and by an indexed *pebble.Batch.
type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func pebbleGet(r pebbleReader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, errors.WithStack(err)
	}
	defer closer.Close()
	return append([]byte{}, v...), nil
}

func pebbleScan(r pebbleReader, start, end []byte, limit int, reverse bool) ([]*KVPair, error) {
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer iter.Close()

	var out []*KVPair
	valid := iter.First()
	if reverse {
		valid = iter.Last()
	}
	for ; valid; valid = step(iter, reverse) {
		out = append(out, &KVPair{
			Key:   append([]byte{}, iter.Key()...),
			Value: append([]byte{}, iter.Value()...),
		})
		if !unlimited(limit) && len(out) >= limit {
			break
		}
	}
	return out, errors.WithStack(iter.Error())
}

func step(iter *pebble.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}

func (s *pebbleStore) Get(_ context.Context, key []byte) ([]byte, error) {
	return pebbleGet(s.db, key)
}

func (s *pebbleStore) Exists(ctx context.Context, key []byte) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *pebbleStore) Scan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	return pebbleScan(s.db, start, end, limit, false)
}

func (s *pebbleStore) ReverseScan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	return pebbleScan(s.db, start, end, limit, true)
}

func (s *pebbleStore) Txn(ctx context.Context, f func(ctx context.Context, txn Txn) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	b := s.db.NewIndexedBatch()
	defer b.Close()

	if err := f(ctx, &pebbleStoreTxn{batch: b}); err != nil {
		return errors.WithStack(err)
	}
	if b.Empty() {
		return nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		s.log.ErrorContext(ctx, "failed to commit batch", slog.Any("error", err))
		return errors.WithStack(err)
	}
	return nil
}

func (s *pebbleStore) Name() string {
	return "pebble"
}

func (s *pebbleStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return errors.WithStack(s.db.Close())
}

type pebbleStoreTxn struct {
	batch *pebble.Batch
}

func (t *pebbleStoreTxn) Get(_ context.Context, key []byte) ([]byte, error) {
	return pebbleGet(t.batch, key)
}

func (t *pebbleStoreTxn) Exists(ctx context.Context, key []byte) (bool, error) {
	_, err := t.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *pebbleStoreTxn) Scan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	return pebbleScan(t.batch, start, end, limit, false)
}

func (t *pebbleStoreTxn) ReverseScan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	return pebbleScan(t.batch, start, end, limit, true)
}

func (t *pebbleStoreTxn) Put(_ context.Context, key []byte, value []byte) error {
	return errors.WithStack(t.batch.Set(key, value, nil))
}

func (t *pebbleStoreTxn) Delete(_ context.Context, key []byte) error {
	return errors.WithStack(t.batch.Delete(key, nil))
}
