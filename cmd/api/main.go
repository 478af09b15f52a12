package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sattu-dealer/Image-Tools/internal/api"
	"github.com/sattu-dealer/Image-Tools/internal/app"
	"github.com/sattu-dealer/Image-Tools/internal/auth"
	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/config"
	"github.com/sattu-dealer/Image-Tools/internal/images"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
	"github.com/sattu-dealer/Image-Tools/internal/queue"
	"github.com/sattu-dealer/Image-Tools/internal/ratelimit"
	"github.com/sattu-dealer/Image-Tools/internal/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := telemetry.NewLogger("api", telemetry.LogConfig{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagetools-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}

	if err := codec.Startup(); err != nil {
		logger.Fatal("codec startup failed", zap.Error(err))
	}
	defer codec.Shutdown()

	records, err := app.OpenImageStore(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("open image store failed", zap.Error(err))
	}
	defer func() { _ = records.Close() }()

	blobs, err := app.OpenBlobStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("open blob store failed", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(cfg.API.JWTSecret)
	if err != nil {
		logger.Fatal("auth setup failed", zap.Error(err))
	}

	metrics := api.NewMetrics()
	processor, err := pipeline.NewDefaultProcessor(
		pipeline.WithLogger(logger),
		pipeline.WithSearchIterations(cfg.Processing.SearchIterations),
		pipeline.WithDefaultQuality(cfg.Processing.DefaultQuality),
		pipeline.WithSearchObserver(metrics.ObserveSearch),
	)
	if err != nil {
		logger.Fatal("pipeline setup failed", zap.Error(err))
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close error", zap.Error(err))
		}
	}()

	deps := api.Dependencies{
		Images:           images.NewService(processor, records, blobs, logger),
		Queue:            queueClient,
		Verifier:         verifier,
		Metrics:          metrics,
		MaxUploadBytes:   cfg.API.MaxUploadBytes,
		SearchIterations: cfg.Processing.SearchIterations,
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatal("rate limiter setup failed", zap.Error(err))
		}
		deps.RateLimiter = limiter
	}

	server := api.NewServer(logger, deps)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("codec", processor.CodecName()),
			zap.String("database", cfg.Database.Driver),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", zap.Error(err))
	}
}
