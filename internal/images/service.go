package images

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/id"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
	"github.com/sattu-dealer/Image-Tools/internal/storage"
	"github.com/sattu-dealer/Image-Tools/internal/store"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("image not found")
	ErrForbidden = errors.New("image belongs to another owner")
)

const processedPrefix = "processed/"

// BlobStore is satisfied by storage.Local and storage.Client.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type processor interface {
	Process(ctx context.Context, req domain.ProcessingRequest) (pipeline.Output, error)
}

// Service ties the processing pipeline to record persistence and blob
// storage. A processed record is only written once its output blob exists.
type Service struct {
	processor processor
	records   store.ImageStore
	blobs     BlobStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(p processor, records store.ImageStore, blobs BlobStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		processor: p,
		records:   records,
		blobs:     blobs,
		logger:    logger,
		now:       time.Now,
	}
}

func ProcessedKey(fileName string) string {
	return processedPrefix + fileName
}

func SourceKey(recordID string) string {
	return fmt.Sprintf("uploads/%s/source", recordID)
}

// Process runs the pipeline for req and stores the result. An empty
// recordID gets a fresh one. When recordID names a record accepted for
// asynchronous processing, that record is completed in place.
func (s *Service) Process(ctx context.Context, recordID string, req domain.ProcessingRequest) (domain.ImageRecord, error) {
	var pending *domain.ImageRecord
	if recordID == "" {
		recordID = id.New()
	} else {
		existing, ok, err := s.records.Get(ctx, recordID)
		if err != nil {
			return domain.ImageRecord{}, err
		}
		if ok {
			pending = &existing
		}
	}
	req.RequestID = recordID

	out, err := s.processor.Process(ctx, req)
	if err != nil {
		return domain.ImageRecord{}, err
	}

	key := ProcessedKey(out.FileName)
	if err := s.blobs.Put(ctx, key, out.Data, out.Operations.Format.ContentType()); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("store processed image: %w", err)
	}

	now := s.now().UTC()
	rec := domain.ImageRecord{
		ID:           recordID,
		OwnerID:      req.OwnerID,
		OriginalName: req.OriginalName,
		Status:       domain.StatusProcessed,
		FileName:     out.FileName,
		StoragePath:  "/" + key,
		Operations:   out.Operations,
		SizeBytes:    int64(len(out.Data)),
		UploadedAt:   now,
		UpdatedAt:    now,
	}
	if pending != nil {
		rec.UploadedAt = pending.UploadedAt
		err = s.records.Update(ctx, rec)
	} else {
		err = s.records.Create(ctx, rec)
	}
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn("remove orphaned output failed", zap.String("key", key), zap.Error(delErr))
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.ImageRecord{}, fmt.Errorf("persist image record %s: %w", recordID, ErrNotFound)
		}
		return domain.ImageRecord{}, fmt.Errorf("persist image record: %w", err)
	}

	s.logger.Info("image stored",
		zap.String("record_id", rec.ID),
		zap.String("owner_id", rec.OwnerID),
		zap.String("file_name", rec.FileName),
		zap.Int64("size_bytes", rec.SizeBytes),
	)
	return rec, nil
}

// Accept records an upload that will be processed later. The record starts
// out queued and has no output until the worker completes it.
func (s *Service) Accept(ctx context.Context, recordID, ownerID, originalName string) (domain.ImageRecord, error) {
	now := s.now().UTC()
	rec := domain.ImageRecord{
		ID:           recordID,
		OwnerID:      ownerID,
		OriginalName: originalName,
		Status:       domain.StatusQueued,
		UploadedAt:   now,
		UpdatedAt:    now,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("persist queued record: %w", err)
	}
	return rec, nil
}

// Start moves an accepted record to processing. A record that is already
// processed is returned unchanged so redelivered tasks can be skipped.
func (s *Service) Start(ctx context.Context, recordID string) (domain.ImageRecord, error) {
	rec, ok, err := s.records.Get(ctx, recordID)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	if !ok {
		return domain.ImageRecord{}, ErrNotFound
	}
	if rec.Status == domain.StatusProcessed {
		return rec, nil
	}
	return s.setStatus(ctx, recordID, domain.StatusProcessing, "")
}

// Fail records why processing stopped. retrying keeps the record queued for
// the next attempt; otherwise it is marked failed for good.
func (s *Service) Fail(ctx context.Context, recordID string, cause error, retrying bool) (domain.ImageRecord, error) {
	status := domain.StatusFailed
	if retrying {
		status = domain.StatusQueued
	}
	return s.setStatus(ctx, recordID, status, cause.Error())
}

func (s *Service) setStatus(ctx context.Context, recordID string, status domain.Status, errMsg string) (domain.ImageRecord, error) {
	rec, err := s.records.UpdateStatus(ctx, recordID, status, errMsg)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ImageRecord{}, ErrNotFound
		}
		return domain.ImageRecord{}, fmt.Errorf("update record status: %w", err)
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]domain.ImageRecord, error) {
	return s.records.ListByOwner(ctx, ownerID)
}

func (s *Service) Get(ctx context.Context, ownerID, recordID string) (domain.ImageRecord, error) {
	rec, ok, err := s.records.Get(ctx, recordID)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	if !ok {
		return domain.ImageRecord{}, ErrNotFound
	}
	if rec.OwnerID != ownerID {
		return domain.ImageRecord{}, ErrForbidden
	}
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, recordID string) error {
	rec, err := s.Get(ctx, ownerID, recordID)
	if err != nil {
		return err
	}
	if rec.FileName != "" {
		if err := s.blobs.Delete(ctx, ProcessedKey(rec.FileName)); err != nil {
			return fmt.Errorf("delete processed image: %w", err)
		}
	}
	if err := s.records.Delete(ctx, rec.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Clear removes every output and record of ownerID and reports how many
// records were removed.
func (s *Service) Clear(ctx context.Context, ownerID string) (int, error) {
	recs, err := s.records.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		if rec.FileName == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, ProcessedKey(rec.FileName)); err != nil {
			return 0, fmt.Errorf("delete processed image %s: %w", rec.FileName, err)
		}
	}
	return s.records.DeleteByOwner(ctx, ownerID)
}

// Open returns the processed bytes stored under fileName.
func (s *Service) Open(ctx context.Context, fileName string) ([]byte, domain.Format, error) {
	if !validFileName(fileName) {
		return nil, "", ErrNotFound
	}
	format, err := domain.ParseFormat(fileName[strings.LastIndexByte(fileName, '.')+1:])
	if err != nil || format == "" {
		return nil, "", ErrNotFound
	}

	data, err := s.blobs.Get(ctx, ProcessedKey(fileName))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return data, format, nil
}

// StageSource keeps an uploaded original until the worker picks it up.
func (s *Service) StageSource(ctx context.Context, recordID string, data []byte) (string, error) {
	key := SourceKey(recordID)
	if err := s.blobs.Put(ctx, key, data, "application/octet-stream"); err != nil {
		return "", fmt.Errorf("store source image: %w", err)
	}
	return key, nil
}

func (s *Service) LoadSource(ctx context.Context, key string) ([]byte, error) {
	return s.blobs.Get(ctx, key)
}

func (s *Service) DropSource(ctx context.Context, key string) error {
	return s.blobs.Delete(ctx, key)
}

func validFileName(name string) bool {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return false
	}
	return dot < len(name)-1 && id.SanitizeToken(name[:dot]) == name[:dot]
}
