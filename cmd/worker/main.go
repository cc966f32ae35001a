package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/janitor"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/rembg"
	"github.com/dunamismax/cutout/internal/storage"
	"github.com/dunamismax/cutout/internal/store"
	"github.com/dunamismax/cutout/internal/telemetry"
	"github.com/dunamismax/cutout/internal/webhook"
	"github.com/dunamismax/cutout/internal/worker"
	"github.com/dunamismax/cutout/internal/workpool"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Debug {
		logger.SetFlags(logger.Flags() | log.Lshortfile)
	}
	if cfg.Database.DSN == "" {
		logger.Fatalf("POSTGRES_DSN is required: the worker reads jobs created by the api process")
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, "worker", logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("start image runtime: %v", err)
	}
	defer pipeline.Shutdown()

	pool := workpool.New(cfg.Processing.PoolSize, cfg.Processing.QueueSize)
	defer pool.Close()

	remover, err := rembg.New(cfg.Rembg, logger)
	if err != nil {
		logger.Fatalf("build background remover: %v", err)
	}
	if c, ok := remover.(io.Closer); ok {
		defer c.Close()
	}

	objects, err := storage.NewClient(cfg.Storage)
	if err != nil {
		logger.Fatalf("build storage client: %v", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Fatalf("ensure bucket %s: %v", objects.Bucket(), err)
	}

	processor, err := pipeline.NewProcessor(remover, nil, pool, cfg.Upload.TempDir)
	if err != nil {
		logger.Fatalf("build processor: %v", err)
	}
	processor.WithStages(
		pipeline.ObjectStoreFetcher{Storage: objects},
		pipeline.ObjectStoreEmitter{Storage: objects},
	)

	jobStore, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	defer jobStore.Close()

	srv, err := worker.NewServer(logger, cfg, processor, objects, webhook.NewClient(cfg.Webhook), jobStore)
	if err != nil {
		logger.Fatalf("build worker: %v", err)
	}

	sweeper, err := janitor.New(cfg.Janitor, cfg.Upload.TempDir, logger)
	if err != nil {
		logger.Fatalf("build janitor: %v", err)
	}
	sweeper.Start()

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           metricsMux(srv),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s backend=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		remover.Name(),
	)

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
	sweeper.Stop(shutdownCtx)
}

func metricsMux(srv *worker.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", srv.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	return mux
}
