package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/config"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/images"
	"github.com/sattu-dealer/Image-Tools/internal/queue"
	"github.com/sattu-dealer/Image-Tools/internal/storage"
	"github.com/sattu-dealer/Image-Tools/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Server struct {
	logger        *zap.Logger
	server        *asynq.Server
	sem           chan struct{}
	images        imageService
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type imageService interface {
	Start(ctx context.Context, recordID string) (domain.ImageRecord, error)
	Process(ctx context.Context, recordID string, req domain.ProcessingRequest) (domain.ImageRecord, error)
	Fail(ctx context.Context, recordID string, cause error, retrying bool) (domain.ImageRecord, error)
	LoadSource(ctx context.Context, key string) ([]byte, error)
	DropSource(ctx context.Context, key string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint string, ev webhook.Event) error
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	images imageService,
	webhookClient webhookSender,
) (*Server, error) {
	if images == nil {
		return nil, fmt.Errorf("image service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		images:        images,
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imagetools/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.StatusFailed

	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	format := string(payload.Options.Format)
	if format == "" {
		format = string(domain.DefaultFormat)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("image.record_id", payload.RecordID),
		attribute.String("image.owner_id", payload.OwnerID),
		attribute.String("image.format", format),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(format, string(outcome)).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(format, string(outcome)).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log := s.logger.With(
		zap.String("record_id", payload.RecordID),
		zap.String("owner_id", payload.OwnerID),
	)

	current, err := s.images.Start(ctx, payload.RecordID)
	switch {
	case errors.Is(err, images.ErrNotFound):
		log.Info("record deleted before processing, dropping task")
		s.dropSource(ctx, log, payload.SourceKey)
		return fmt.Errorf("start record: %v: %w", err, asynq.SkipRetry)
	case err != nil:
		span.RecordError(err)
		return fmt.Errorf("start record: %w", err)
	case current.Status == domain.StatusProcessed:
		log.Info("record already processed, skipping redelivered task")
		s.dropSource(ctx, log, payload.SourceKey)
		outcome = domain.StatusProcessed
		return nil
	}
	log.Info("processing image", zap.String("source_key", payload.SourceKey), zap.String("format", format))

	source, err := s.images.LoadSource(ctx, payload.SourceKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load source failed")
		if errors.Is(err, storage.ErrNotFound) {
			s.fail(ctx, log, payload, err, true)
			return fmt.Errorf("load source: %v: %w", err, asynq.SkipRetry)
		}
		s.fail(ctx, log, payload, err, finalAttempt(ctx))
		return fmt.Errorf("load source: %w", err)
	}

	rec, err := s.images.Process(ctx, payload.RecordID, domain.ProcessingRequest{
		ImageBytes:   source,
		OriginalName: payload.OriginalName,
		OwnerID:      payload.OwnerID,
		Options:      payload.Options,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		final := permanent(err) || finalAttempt(ctx)
		s.fail(ctx, log, payload, err, final)
		if permanent(err) {
			return fmt.Errorf("process image: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("process image: %w", err)
	}

	outcome = domain.StatusProcessed
	s.metrics.outputBytes.Add(float64(rec.SizeBytes))
	if c := rec.Operations.Compression; c != nil && !c.WithinBudget {
		s.metrics.overBudget.Inc()
	}
	span.SetAttributes(attribute.Int64("image.bytes", rec.SizeBytes))
	span.SetStatus(codes.Ok, "processed")
	log.Info("image processed", zap.String("file_name", rec.FileName), zap.Int64("size_bytes", rec.SizeBytes))

	s.dropSource(ctx, log, payload.SourceKey)

	// The record exists now, so a failed delivery must not re-run the task.
	if err := s.dispatchWebhook(ctx, log, payload, webhook.Processed(rec, payload.RequestedAt)); err != nil {
		span.RecordError(err)
	}
	return nil
}

// fail stores the failure on the record. A final failure also removes the
// staged source and notifies the webhook; otherwise the record goes back to
// queued for the next attempt.
func (s *Server) fail(ctx context.Context, log *zap.Logger, payload queue.ProcessImagePayload, cause error, final bool) {
	if _, err := s.images.Fail(ctx, payload.RecordID, cause, !final); err != nil {
		log.Warn("record status update failed", zap.Bool("final", final), zap.Error(err))
	}
	if !final {
		return
	}
	s.dropSource(ctx, log, payload.SourceKey)
	_ = s.dispatchWebhook(ctx, log, payload, webhook.Failed(payload.RecordID, payload.OwnerID, payload.RequestedAt, cause))
}

func (s *Server) dropSource(ctx context.Context, log *zap.Logger, key string) {
	if err := s.images.DropSource(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("remove source failed", zap.String("source_key", key), zap.Error(err))
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, log *zap.Logger, payload queue.ProcessImagePayload, ev webhook.Event) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, ev); err != nil {
		s.metrics.webhookFailures.WithLabelValues(ev.Type).Inc()
		log.Warn("webhook delivery failed", zap.String("event", ev.Type), zap.Error(err))
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

// permanent reports failures that no retry can fix.
func permanent(err error) bool {
	return errors.Is(err, codec.ErrDecode) ||
		errors.Is(err, codec.ErrEncode) ||
		errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, images.ErrNotFound)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}
