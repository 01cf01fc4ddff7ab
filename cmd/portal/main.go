package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/auth"
	"attendkiosk/internal/backend"
	"attendkiosk/internal/capture"
	"attendkiosk/internal/clock"
	"attendkiosk/internal/config"
	"attendkiosk/internal/faceclient"
	"attendkiosk/internal/httpmiddleware"
	"attendkiosk/internal/metrics"
	"attendkiosk/internal/portal"
	"attendkiosk/internal/queue"
	"attendkiosk/internal/schedule"
	"attendkiosk/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.InitLogger(cfg.LogLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("portal stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	clk := clock.Real{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	var rdb *store.Redis
	if cfg.CacheBackend == config.BackendRedis || cfg.QueueBackend == config.BackendRedis {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			logger.Warn("redis not reachable", slog.String("addr", cfg.RedisAddr))
		}
	}

	var cache store.Cache = store.NewMemory(clk)
	if cfg.CacheBackend == config.BackendRedis {
		cache = rdb
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case config.BackendMemory:
		q = queue.NewInMemory(64)
	case config.BackendRedis:
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultKey, logger)
	default:
		return fmt.Errorf("QUEUE_BACKEND=%q: %w", cfg.QueueBackend, config.ErrUnknownBackend)
	}

	// The journal database is optional at the station.
	attempts, db, err := attendance.OpenJournal(ctx, cfg.JournalDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Warn("journal database not available", slog.String("driver", cfg.JournalDriver), slog.Any("error", err))
	} else {
		defer db.Close()
	}

	cam := openCamera(cfg.Camera, logger)
	faces := faceclient.New(cfg.BackendURL, cfg.FaceSkip)
	accounts := backend.New(cfg.BackendURL)
	schedules := schedule.NewService(accounts, cache, cfg.ScheduleCacheTTL, clk, m, logger)
	creds := &auth.MemoryStore{}

	var srv *portal.Server
	orch := capture.New(cam, faces, capture.Options{
		Frames:      cfg.Capture.Frames,
		Interval:    cfg.Capture.Interval,
		ResetDelay:  cfg.Capture.ResetDelay,
		Clock:       clk,
		Credentials: creds,
		OnReset: func(mode capture.Mode, studentID string) {
			srv.Refresh(mode, studentID)
		},
		Journal: attendance.NewJournal(q),
		Metrics: m,
		Logger:  logger,
	})
	defer orch.Close()

	checks := map[string]portal.HealthCheck{
		"verification": faces.Health,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Client.Ping(ctx).Err() }
	}

	opts := portal.Options{
		Accounts:     accounts,
		Faces:        faces,
		Schedules:    schedules,
		Capture:      orch,
		Credentials:  creds,
		Cache:        cache,
		Inspector:    auth.NewInspector(clk),
		Limiter:      httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clk),
		CookieName:   cfg.SessionCookie,
		SecureCookie: cfg.IsProduction(),
		CORSOrigins:  cfg.CORSOrigins,
		Checks:       checks,
		Metrics:      m,
		Gatherer:     reg,
		Logger:       logger,
	}
	if attempts != nil {
		opts.Attempts = attempts
	}
	srv = portal.New(opts)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("portal listening", slog.String("addr", httpSrv.Addr), slog.String("env", cfg.Env))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down portal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if cfg.QueueBackend == config.BackendMemory {
		// Nothing else can read an in-process queue.
		persist := attendance.LogOnly(logger)
		if attempts != nil {
			persist = attempts.Persist
		}
		g.Go(func() error {
			if err := attendance.Drain(gctx, q, persist, logger); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// openCamera returns nil when no camera can be attached; capture runs then
// fail with a not-ready message instead of stopping the portal.
func openCamera(cfg config.CameraConfig, logger *slog.Logger) capture.Camera {
	switch cfg.Kind {
	case "dir":
		cam, err := capture.NewDirCamera(cfg.Dir)
		if err != nil {
			logger.Warn("camera directory unavailable", slog.String("dir", cfg.Dir), slog.Any("error", err))
			return nil
		}
		return cam
	case "http", "":
		return capture.NewHTTPCamera(cfg.SnapshotURL)
	default:
		logger.Warn("unknown camera kind", slog.String("kind", cfg.Kind))
		return nil
	}
}
