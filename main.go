package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bootjp/pendingq/adapter"
	"github.com/bootjp/pendingq/persistence"
	"github.com/bootjp/pendingq/queue"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var (
	engine      = flag.String("engine", "bolt", "Storage engine: memory, bolt or pebble")
	dataDir     = flag.String("data_dir", "data/", "Directory for durable engines")
	redisAddr   = flag.String("redis_address", "localhost:6380", "TCP host+port for the admin protocol")
	metricsAddr = flag.String("metrics_address", "localhost:9090", "TCP host+port for /metrics, empty to disable")
	users       = flag.String("users", "", "Comma separated uids whose queues are recovered at boot (- for unauthenticated)")
	logLevel    = flag.String("log_level", "info", "debug, info, warn or error")
	lookupChunk = flag.Int("lookup_chunk", queue.DefaultLookupChunkSize, "Document keys per index scan")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	cfg, err := parseConfig(*engine, *dataDir, *redisAddr, *metricsAddr, *users, *logLevel, *lookupChunk)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	p, err := persistence.Open(cfg.storage,
		persistence.WithLogger(logger),
		persistence.WithQueueOptions(queue.WithLookupChunkSize(cfg.lookupChunk)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Shutdown(); err != nil {
			logger.Error("failed to close storage", slog.Any("error", err))
		}
	}()

	if err := recoverQueues(ctx, p, cfg, logger); err != nil {
		return err
	}

	redisL, err := net.Listen("tcp", cfg.redisAddress)
	if err != nil {
		return errors.WithStack(err)
	}
	redisServer := adapter.NewRedisServer(redisL, p, adapter.WithRedisLogger(logger))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return errors.WithStack(redisServer.Run())
	})
	eg.Go(func() error {
		<-ctx.Done()
		redisServer.Stop()
		return nil
	})

	if cfg.metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.metricsAddress, Handler: mux, ReadHeaderTimeout: time.Second}
		eg.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.WithStack(err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.WithStack(srv.Shutdown(sctx))
		})
	}

	logger.Info("serving",
		slog.String("engine", string(cfg.storage.Engine)),
		slog.String("redis_address", cfg.redisAddress),
		slog.String("metrics_address", cfg.metricsAddress),
	)

	return errors.WithStack(eg.Wait())
}

// recoverQueues starts the configured queues so that resets and consistency
// problems surface at boot.
func recoverQueues(ctx context.Context, p *persistence.Persistence, cfg config, logger *slog.Logger) error {
	for _, u := range cfg.users {
		q, err := p.StartMutationQueue(ctx, u)
		if err != nil {
			return errors.Wrapf(err, "recover queue for %s", u)
		}
		next, err := q.NextBatchID(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		acked, err := q.HighestAcknowledgedBatchID(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if err := q.CheckConsistency(ctx); err != nil {
			return errors.Wrapf(err, "queue for %s", u)
		}
		logger.Info("recovered mutation queue",
			slog.String("uid", u.UID),
			slog.Int64("next_batch_id", int64(next)),
			slog.Int64("acked_batch_id", int64(acked)),
		)
	}
	return nil
}
