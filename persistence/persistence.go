package persistence

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bootjp/pendingq/model"
	"github.com/bootjp/pendingq/queue"
	"github.com/bootjp/pendingq/store"
	"github.com/cockroachdb/errors"
)

const (
	dirMode       = 0o755
	boltFileName  = "pendingq.db"
	pebbleDirName = "pebble"
)

// Persistence owns the storage backend and hands out transactions and
// per-user mutation queues on top of it.
type Persistence struct {
	st        store.TxnStore
	log       *slog.Logger
	queueOpts []queue.Option

	closeOnce sync.Once
	closeErr  error
}

// Option configures Persistence.
type Option func(*Persistence)

// WithLogger sets the logger used by persistence, its backend and its queues.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persistence) {
		p.log = l
	}
}

// WithQueueOptions appends options applied to every queue from MutationQueue.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(p *Persistence) {
		p.queueOpts = append(p.queueOpts, opts...)
	}
}

// Open validates cfg and opens the selected backend.
func Open(cfg Config, opts ...Option) (*Persistence, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Persistence{
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(p)
	}

	st, err := openStore(cfg, p.log)
	if err != nil {
		return nil, err
	}
	p.st = st
	p.log = p.log.With(slog.String("engine", st.Name()))
	return p, nil
}

// New wraps an already open backend.
func New(st store.TxnStore, opts ...Option) *Persistence {
	p := &Persistence{
		st: st,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(slog.String("engine", st.Name()))
	return p
}

func openStore(cfg Config, log *slog.Logger) (store.TxnStore, error) {
	switch cfg.Engine {
	case EngineMemory:
		return store.NewRbMemoryStore(store.WithMemoryLogger(log)), nil
	case EngineBolt:
		if err := os.MkdirAll(cfg.DataDir, dirMode); err != nil {
			return nil, errors.WithStack(err)
		}
		st, err := store.NewBoltStore(filepath.Join(cfg.DataDir, boltFileName), store.WithBoltLogger(log))
		return st, errors.Wrapf(err, "open bolt store in %s", cfg.DataDir)
	case EnginePebble:
		st, err := store.NewPebbleStore(filepath.Join(cfg.DataDir, pebbleDirName), store.WithPebbleLogger(log))
		return st, errors.Wrapf(err, "open pebble store in %s", cfg.DataDir)
	default:
		return nil, errors.Wrapf(ErrUnknownEngine, "%q", cfg.Engine)
	}
}

func (p *Persistence) Store() store.TxnStore { return p.st }

// RunTransaction runs action with all-or-nothing effect. A call made inside
// another transaction joins it. label only names the transaction in logs and
// metrics.
func (p *Persistence) RunTransaction(ctx context.Context, label string, action func(ctx context.Context) error) error {
	if _, ok := store.TxnFromContext(ctx); ok {
		return action(ctx)
	}

	start := time.Now()
	err := store.RunInTxn(ctx, p.st, action)
	txnDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		txnFailures.WithLabelValues(label).Inc()
		p.log.WarnContext(ctx, "transaction rolled back",
			slog.String("label", label),
			slog.Any("error", err),
		)
		return errors.Wrapf(err, "transaction %q", label)
	}
	return nil
}

// MutationQueue returns a queue for user. Queues for different users are
// independent; handles for the same user share state through storage. The
// queue must be started before use.
func (p *Persistence) MutationQueue(user model.User) *queue.MutationQueue {
	opts := append([]queue.Option{queue.WithLogger(p.log)}, p.queueOpts...)
	return queue.New(p.st, user, opts...)
}

// StartMutationQueue returns a started queue for user.
func (p *Persistence) StartMutationQueue(ctx context.Context, user model.User) (*queue.MutationQueue, error) {
	q := p.MutationQueue(user)
	err := p.RunTransaction(ctx, "Start MutationQueue", q.Start)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Shutdown closes the backend. Later calls return the first result.
func (p *Persistence) Shutdown() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.WithStack(p.st.Close())
	})
	return p.closeErr
}
