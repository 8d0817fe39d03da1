package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/maps/treemap"
)

// rbMemoryStore keeps keys in a red-black tree so scans come out in byte order.
type rbMemoryStore struct {
	tree   *treemap.Map
	mtx    sync.RWMutex
	log    *slog.Logger
	closed bool
}

func byteSliceComparator(a, b interface{}) int {
	aAsserted, aOk := a.([]byte)
	bAsserted, bOK := b.([]byte)
	if !aOk || !bOK {
		panic("not a byte slice")
	}
	return bytes.Compare(aAsserted, bAsserted)
}

// MemoryStoreOption configures the in-memory store.
type MemoryStoreOption func(*rbMemoryStore)

// WithMemoryLogger sets a custom logger.
func WithMemoryLogger(l *slog.Logger) MemoryStoreOption {
	return func(s *rbMemoryStore) {
		s.log = l
	}
}

// NewRbMemoryStore returns an ordered, non-durable TxnStore.
func NewRbMemoryStore(opts ...MemoryStoreOption) TxnStore {
	m := &rbMemoryStore{
		mtx:  sync.RWMutex{},
		tree: treemap.NewWith(byteSliceComparator),
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ TxnStore = (*rbMemoryStore)(nil)

func (s *rbMemoryStore) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return treeGet(s.tree, key)
}

func (s *rbMemoryStore) Exists(ctx context.Context, key []byte) (bool, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	_, ok := s.tree.Get(key)
	return ok, nil
}

func (s *rbMemoryStore) Scan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return scanTree(s.tree, start, end, limit), nil
}

func (s *rbMemoryStore) ReverseScan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return reverseScanTree(s.tree, start, end, limit), nil
}

func (s *rbMemoryStore) Txn(ctx context.Context, f func(ctx context.Context, txn Txn) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return errors.WithStack(ErrClosed)
	}
	txn := s.NewTxn()

	err := f(ctx, txn)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, op := range txn.ops {
		switch op.opType {
		case OpTypePut:
			s.tree.Put(op.key, op.v)
		case OpTypeDelete:
			s.tree.Remove(op.key)
		default:
			return errors.WithStack(ErrUnknownOp)
		}
	}
	s.log.DebugContext(ctx, "Txn",
		slog.Int("ops", len(txn.ops)),
	)

	return nil
}

func (s *rbMemoryStore) Name() string {
	return "memory"
}

func (s *rbMemoryStore) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.closed = true
	return nil
}

func treeGet(tree *treemap.Map, key []byte) ([]byte, error) {
	v, ok := tree.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	vv, ok := v.([]byte)
	if !ok {
		return nil, errors.WithStack(ErrKeyNotFound)
	}
	return cloneBytes(vv), nil
}

func inRange(k, start, end []byte) bool {
	if start != nil && bytes.Compare(k, start) < 0 {
		return false
	}
	return end == nil || bytes.Compare(k, end) < 0
}

func scanTree(tree *treemap.Map, start, end []byte, limit int) []*KVPair {
	var result []*KVPair
	it := tree.Iterator()
	for it.Next() {
		k, ok := it.Key().([]byte)
		if !ok {
			continue
		}
		if start != nil && bytes.Compare(k, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		v, _ := it.Value().([]byte)
		result = append(result, &KVPair{Key: cloneBytes(k), Value: cloneBytes(v)})
		if !unlimited(limit) && len(result) >= limit {
			break
		}
	}
	return result
}

func reverseScanTree(tree *treemap.Map, start, end []byte, limit int) []*KVPair {
	var result []*KVPair
	it := tree.Iterator()
	it.End()
	for it.Prev() {
		k, ok := it.Key().([]byte)
		if !ok {
			continue
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			continue
		}
		if start != nil && bytes.Compare(k, start) < 0 {
			break
		}
		v, _ := it.Value().([]byte)
		result = append(result, &KVPair{Key: cloneBytes(k), Value: cloneBytes(v)})
		if !unlimited(limit) && len(result) >= limit {
			break
		}
	}
	return result
}

type rbMemoryStoreTxn struct {
	// writes buffered by the transaction, key -> rbMemOp
	tree *treemap.Map
	// in the order they were issued, replayed on commit
	ops []rbMemOp
	s   *rbMemoryStore
}

func (s *rbMemoryStore) NewTxn() *rbMemoryStoreTxn {
	return &rbMemoryStoreTxn{
		tree: treemap.NewWith(byteSliceComparator),
		ops:  []rbMemOp{},
		s:    s,
	}
}

type rbMemOp struct {
	opType OpType
	key    []byte
	v      []byte
}

func (t *rbMemoryStoreTxn) Get(_ context.Context, key []byte) ([]byte, error) {
	if v, ok := t.tree.Get(key); ok {
		op, _ := v.(rbMemOp)
		if op.opType == OpTypeDelete {
			return nil, ErrKeyNotFound
		}
		return cloneBytes(op.v), nil
	}
	return treeGet(t.s.tree, key)
}

func (t *rbMemoryStoreTxn) Exists(ctx context.Context, key []byte) (bool, error) {
	_, err := t.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// merged returns committed pairs in [start, end) with the transaction's
// buffered writes applied on top, in ascending key order.
func (t *rbMemoryStoreTxn) merged(start, end []byte) []*KVPair {
	base := scanTree(t.s.tree, start, end, 0)
	var overlay []rbMemOp
	it := t.tree.Iterator()
	for it.Next() {
		op, _ := it.Value().(rbMemOp)
		if inRange(op.key, start, end) {
			overlay = append(overlay, op)
		}
	}

	out := make([]*KVPair, 0, len(base)+len(overlay))
	i, j := 0, 0
	for i < len(base) || j < len(overlay) {
		switch {
		case j >= len(overlay) || (i < len(base) && bytes.Compare(base[i].Key, overlay[j].key) < 0):
			out = append(out, base[i])
			i++
		default:
			if i < len(base) && bytes.Equal(base[i].Key, overlay[j].key) {
				i++
			}
			if overlay[j].opType == OpTypePut {
				out = append(out, &KVPair{Key: cloneBytes(overlay[j].key), Value: cloneBytes(overlay[j].v)})
			}
			j++
		}
	}
	return out
}

func (t *rbMemoryStoreTxn) Scan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	out := t.merged(start, end)
	if !unlimited(limit) && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *rbMemoryStoreTxn) ReverseScan(_ context.Context, start []byte, end []byte, limit int) ([]*KVPair, error) {
	out := t.merged(start, end)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if !unlimited(limit) && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *rbMemoryStoreTxn) Put(_ context.Context, key []byte, value []byte) error {
	op := rbMemOp{
		key:    cloneBytes(key),
		opType: OpTypePut,
		v:      cloneBytes(value),
	}
	t.tree.Put(op.key, op)
	t.ops = append(t.ops, op)
	return nil
}

func (t *rbMemoryStoreTxn) Delete(_ context.Context, key []byte) error {
	op := rbMemOp{
		key:    cloneBytes(key),
		opType: OpTypeDelete,
	}
	t.tree.Put(op.key, op)
	t.ops = append(t.ops, op)
	return nil
}
