package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/config"
	"attendkiosk/internal/queue"
	"attendkiosk/internal/store"
)

// Worker consumes the capture-attempt journal and persists it to Postgres.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	if cfg.QueueBackend == config.BackendMemory {
		return errors.New("worker needs QUEUE_BACKEND=redis; the portal drains in-memory queues itself")
	}

	svc, db, err := attendance.OpenJournal(ctx, cfg.JournalDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		logger.Warn("redis not reachable yet, will keep retrying", slog.String("addr", cfg.RedisAddr))
	}
	q := queue.NewRedisQueue(rdb.Client, queue.DefaultKey, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker started, waiting for attempts", slog.String("queue", queue.DefaultKey))
		err := attendance.Drain(gctx, q, svc.Persist, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
