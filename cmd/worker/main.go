package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/app"
	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/config"
	"github.com/sattu-dealer/Image-Tools/internal/images"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
	"github.com/sattu-dealer/Image-Tools/internal/telemetry"
	"github.com/sattu-dealer/Image-Tools/internal/webhook"
	"github.com/sattu-dealer/Image-Tools/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := telemetry.NewLogger("worker", telemetry.LogConfig{
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
		ServiceName:  "imagetools-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

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

	processor, err := pipeline.NewDefaultProcessor(
		pipeline.WithLogger(logger),
		pipeline.WithSearchIterations(cfg.Processing.SearchIterations),
		pipeline.WithDefaultQuality(cfg.Processing.DefaultQuality),
	)
	if err != nil {
		logger.Fatal("pipeline setup failed", zap.Error(err))
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.Backoff,
		MaxBackoff:     8 * cfg.Webhook.Backoff,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		images.NewService(processor, records, blobs, logger),
		webhookClient,
	)
	if err != nil {
		logger.Fatal("worker setup failed", zap.Error(err))
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() { _ = metricsServer.Close() }()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_jobs", cfg.Worker.MaxActiveJobs),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.String("codec", processor.CodecName()),
	)
	if err := srv.Run(); err != nil {
		logger.Error("worker failed", zap.Error(err))
	}
}
