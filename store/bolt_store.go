package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

var defaultBucket = []byte("pendingq")

const (
	mode            = 0600
	boltOpenTimeout = 5 * time.Second
)

// boltStore keeps every key in a single bbolt bucket. bbolt allows one writer
// at a time, which gives Txn its serialisation.
type boltStore struct {
	log   *slog.Logger
	bbolt *bbolt.DB
}

// BoltStoreOption configures the bbolt store.
type BoltStoreOption func(*boltStore)

// WithBoltLogger sets a custom logger.
func WithBoltLogger(l *slog.Logger) BoltStoreOption {
	return func(s *boltStore) {
		s.log = l
	}
}

// NewBoltStore opens (creating if needed) a bbolt file at path.
func NewBoltStore(path string, opts ...BoltStoreOption) (TxnStore, error) {
	db, err := bbolt.Open(path, mode, &bbolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return errors.WithStack(err)
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}

	s := &boltStore{
		bbolt: db,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ TxnStore = (*boltStore)(nil)

func (s *boltStore) view(f func(b *bbolt.Bucket) error) error {
	return errors.WithStack(s.bbolt.View(func(tx *bbolt.Tx) error {
		return f(tx.Bucket(defaultBucket))
	}))
}

func (s *boltStore) Get(_ context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.view(func(b *bbolt.Bucket) error {
		var err error
		v, err = boltGet(b, key)
		return err
	})
	return v, err
}

func (s *boltStore) Exists(ctx context.Context, key []byte) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *boltStore) Scan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	var out []*KVPair
	err := s.view(func(b *bbolt.Bucket) error {
		out = boltScan(b, start, end, limit)
		return nil
	})
	return out, err
}

func (s *boltStore) ReverseScan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	var out []*KVPair
	err := s.view(func(b *bbolt.Bucket) error {
		out = boltReverseScan(b, start, end, limit)
		return nil
	})
	return out, err
}

func (s *boltStore) Txn(ctx context.Context, f func(ctx context.Context, txn Txn) error) error {
	err := s.bbolt.Update(func(tx *bbolt.Tx) error {
		return f(ctx, &boltStoreTxn{bucket: tx.Bucket(defaultBucket)})
	})
	if err != nil {
		s.log.DebugContext(ctx, "Txn rolled back", slog.Any("error", err))
	}
	return errors.WithStack(err)
}

func (s *boltStore) Name() string {
	return "bolt"
}

func (s *boltStore) Close() error {
	return errors.WithStack(s.bbolt.Close())
}

// bbolt values are only valid for the life of the bbolt transaction, so every
// read copies.
func boltGet(b *bbolt.Bucket, key []byte) ([]byte, error) {
	v := b.Get(key)
	if v == nil {
		return nil, ErrKeyNotFound
	}
	return append([]byte{}, v...), nil
}

func boltScan(b *bbolt.Bucket, start, end []byte, limit int) []*KVPair {
	var out []*KVPair
	c := b.Cursor()
	var k, v []byte
	if start == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(start)
	}
	for ; k != nil; k, v = c.Next() {
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		out = append(out, &KVPair{Key: cloneBytes(k), Value: append([]byte{}, v...)})
		if !unlimited(limit) && len(out) >= limit {
			break
		}
	}
	return out
}

func boltReverseScan(b *bbolt.Bucket, start, end []byte, limit int) []*KVPair {
	var out []*KVPair
	c := b.Cursor()
	var k, v []byte
	if end == nil {
		k, v = c.Last()
	} else {
		k, v = c.Seek(end)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
	}
	for ; k != nil; k, v = c.Prev() {
		if start != nil && bytes.Compare(k, start) < 0 {
			break
		}
		out = append(out, &KVPair{Key: cloneBytes(k), Value: append([]byte{}, v...)})
		if !unlimited(limit) && len(out) >= limit {
			break
		}
	}
	return out
}

type boltStoreTxn struct {
	bucket *bbolt.Bucket
}

func (t *boltStoreTxn) Get(_ context.Context, key []byte) ([]byte, error) {
	return boltGet(t.bucket, key)
}

func (t *boltStoreTxn) Exists(_ context.Context, key []byte) (bool, error) {
	return t.bucket.Get(key) != nil, nil
}

func (t *boltStoreTxn) Scan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	return boltScan(t.bucket, start, end, limit), nil
}

func (t *boltStoreTxn) ReverseScan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	return boltReverseScan(t.bucket, start, end, limit), nil
}

func (t *boltStoreTxn) Put(_ context.Context, key []byte, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return errors.WithStack(t.bucket.Put(key, value))
}

func (t *boltStoreTxn) Delete(_ context.Context, key []byte) error {
	return errors.WithStack(t.bucket.Delete(key))
}
