package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/cutout/internal/api"
	"github.com/dunamismax/cutout/internal/config"
	"github.com/dunamismax/cutout/internal/facedetect"
	"github.com/dunamismax/cutout/internal/janitor"
	"github.com/dunamismax/cutout/internal/pipeline"
	"github.com/dunamismax/cutout/internal/queue"
	"github.com/dunamismax/cutout/internal/ratelimit"
	"github.com/dunamismax/cutout/internal/rembg"
	"github.com/dunamismax/cutout/internal/storage"
	"github.com/dunamismax/cutout/internal/store"
	"github.com/dunamismax/cutout/internal/telemetry"
	"github.com/dunamismax/cutout/internal/workpool"
	"github.com/dunamismax/cutout/internal/xnconvert"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Debug {
		logger.SetFlags(logger.Flags() | log.Lshortfile)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, "api", logger)
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

	processor, err := pipeline.NewProcessor(remover, nil, pool, cfg.Upload.TempDir)
	if err != nil {
		logger.Fatalf("build processor: %v", err)
	}

	faces, err := facedetect.New(cfg.Tools.CascadePath)
	if err != nil {
		logger.Printf("face detection disabled err=%v", err)
		faces = nil
	} else {
		defer faces.Close()
	}

	opts := api.Options{
		Processor: processor,
		Converter: xnconvert.New(cfg.Tools.XnConvertPath),
		Faces:     faces,
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			logger.Fatalf("build rate limiter: %v", err)
		}
		opts.RateLimiter = limiter
	}

	if cfg.API.AsyncJobs {
		objects, err := storage.NewClient(cfg.Storage)
		if err != nil {
			logger.Fatalf("build storage client: %v", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket %s: %v", objects.Bucket(), err)
		}

		jobStore, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("open job store: %v", err)
		}
		defer func() {
			if err := jobStore.Close(); err != nil {
				logger.Printf("job store close error: %v", err)
			}
		}()

		queueClient := queue.NewClient(cfg.Queue)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()

		opts.Storage = objects
		opts.Jobs = jobStore
		opts.Queue = queueClient
	}

	app, err := api.NewServer(logger, cfg, opts)
	if err != nil {
		logger.Fatalf("build server: %v", err)
	}

	sweeper, err := janitor.New(cfg.Janitor, cfg.Upload.TempDir, logger)
	if err != nil {
		logger.Fatalf("build janitor: %v", err)
	}
	sweeper.Start()

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.API.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s backend=%s transformer=%s pool=%d async_jobs=%t",
			cfg.API.Addr, remover.Name(), processor.Transformer().Name(), cfg.Processing.PoolSize, cfg.API.AsyncJobs)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	sweeper.Stop(shutdownCtx)
}
