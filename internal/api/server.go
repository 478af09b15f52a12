package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sattu-dealer/Image-Tools/internal/auth"
	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/id"
	"github.com/sattu-dealer/Image-Tools/internal/images"
	"github.com/sattu-dealer/Image-Tools/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultMaxUploadBytes = 20 << 20

type Server struct {
	logger           *zap.Logger
	images           imageService
	queueClient      queueEnqueuer
	verifier         tokenVerifier
	rateLimiter      RateLimiter
	searchIterations int
	metrics          *Metrics
	tracer           trace.Tracer
	maxUploadBytes   int64
	mux              *http.ServeMux
}

type imageService interface {
	Process(ctx context.Context, recordID string, req domain.ProcessingRequest) (domain.ImageRecord, error)
	List(ctx context.Context, ownerID string) ([]domain.ImageRecord, error)
	Get(ctx context.Context, ownerID, recordID string) (domain.ImageRecord, error)
	Delete(ctx context.Context, ownerID, recordID string) error
	Clear(ctx context.Context, ownerID string) (int, error)
	Open(ctx context.Context, fileName string) ([]byte, domain.Format, error)
	Accept(ctx context.Context, recordID, ownerID, originalName string) (domain.ImageRecord, error)
	StageSource(ctx context.Context, recordID string, data []byte) (string, error)
	DropSource(ctx context.Context, key string) error
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type tokenVerifier interface {
	Verify(token string) (string, error)
}

// Dependencies wires a Server. Queue and RateLimiter are optional: without a
// queue the async route answers 503, without a limiter nothing is limited.
// SearchIterations must match the processor's so that size-budgeted requests
// are charged for the encodes they can trigger.
type Dependencies struct {
	Images           imageService
	Queue            queueEnqueuer
	Verifier         tokenVerifier
	RateLimiter      RateLimiter
	Metrics          *Metrics
	MaxUploadBytes   int64
	SearchIterations int
}

func NewServer(logger *zap.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &Server{
		logger:           logger,
		images:           deps.Images,
		queueClient:      deps.Queue,
		verifier:         deps.Verifier,
		rateLimiter:      deps.RateLimiter,
		searchIterations: deps.SearchIterations,
		metrics:          deps.Metrics,
		tracer:           otel.Tracer("imagetools/api"),
		maxUploadBytes:   deps.MaxUploadBytes,
		mux:              http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /processed/{fileName}", s.handleServeProcessed)

	s.mux.Handle("POST /v1/images", s.protected(s.handleProcess))
	s.mux.Handle("POST /v1/images/async", s.protected(s.handleProcessAsync))
	s.mux.Handle("GET /v1/images", s.protected(s.handleList))
	s.mux.Handle("GET /v1/images/{id}", s.protected(s.handleGet))
	s.mux.Handle("DELETE /v1/images/{id}", s.protected(s.handleDelete))
	s.mux.Handle("DELETE /v1/images", s.protected(s.handleClear))
}

func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return s.withAuth(s.withRateLimit(h))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.admitProcessing(w, r, upload.options) {
		return
	}

	rec, err := s.images.Process(r.Context(), "", domain.ProcessingRequest{
		ImageBytes:   upload.data,
		OriginalName: upload.name,
		OwnerID:      owner,
		Options:      upload.options,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.imagesProcessed.WithLabelValues(string(rec.Operations.Format), "sync").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Image processed successfully",
		"data":    rec,
	})
}

func (s *Server) handleProcessAsync(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("async processing is not configured"))
		return
	}

	owner := ownerOf(r)
	upload, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := (domain.ProcessingRequest{ImageBytes: upload.data, OwnerID: owner, Options: upload.options}).Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.admitProcessing(w, r, upload.options) {
		return
	}

	recordID := id.New()
	sourceKey, err := s.images.StageSource(r.Context(), recordID, upload.data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.images.Accept(r.Context(), recordID, owner, upload.name)
	if err != nil {
		s.discardStaged(r.Context(), sourceKey)
		s.writeError(w, r, err)
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessImage(r.Context(), queue.ProcessImagePayload{
		RecordID:     recordID,
		OwnerID:      owner,
		OriginalName: upload.name,
		SourceKey:    sourceKey,
		Options:      upload.options,
		WebhookURL:   upload.webhookURL,
		RequestedAt:  rec.UploadedAt,
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("record_id", recordID), zap.Error(err))
		s.discardStaged(r.Context(), sourceKey)
		if delErr := s.images.Delete(r.Context(), owner, recordID); delErr != nil {
			s.logger.Warn("remove queued record failed", zap.String("record_id", recordID), zap.Error(delErr))
		}
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to enqueue image"))
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":     true,
		"record_id":   recordID,
		"status":      rec.Status,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/images/" + recordID,
		"data":        rec,
	})
}

func (s *Server) discardStaged(ctx context.Context, sourceKey string) {
	if err := s.images.DropSource(ctx, sourceKey); err != nil {
		s.logger.Warn("remove staged source failed", zap.String("source_key", sourceKey), zap.Error(err))
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.images.List(r.Context(), ownerOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(recs),
		"data":    recs,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.images.Get(r.Context(), ownerOf(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rec})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.images.Delete(r.Context(), ownerOf(r), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Image deleted successfully"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.images.Clear(r.Context(), ownerOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message := "All images have been cleared."
	if n == 0 {
		message = "No images to delete."
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message, "deleted": n})
}

func (s *Server) handleServeProcessed(w http.ResponseWriter, r *http.Request) {
	data, format, err := s.images.Open(r.Context(), r.PathValue("fileName"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError maps service and pipeline errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("image exceeds the upload limit"))
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, codec.ErrDecode), errors.Is(err, codec.ErrEncode):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, auth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody("Not authorized"))
	case errors.Is(err, images.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody("Not authorized to access this image"))
	case errors.Is(err, images.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("Image not found"))
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("Server error"))
	}
}

func errorBody(message string) map[string]any {
	return map[string]any{"success": false, "error": message}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
