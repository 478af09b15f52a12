package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

type MemoryImageStore struct {
	mu      sync.RWMutex
	records map[string]domain.ImageRecord
}

func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{
		records: make(map[string]domain.ImageRecord),
	}
}

func (s *MemoryImageStore) Create(_ context.Context, rec domain.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("image record %s already exists", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryImageStore) Get(_ context.Context, id string) (domain.ImageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryImageStore) Update(_ context.Context, rec domain.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return ErrNotFound
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryImageStore) UpdateStatus(_ context.Context, id string, status domain.Status, errMsg string) (domain.ImageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.ImageRecord{}, ErrNotFound
	}
	rec.Status = status
	rec.Error = errMsg
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryImageStore) ListByOwner(_ context.Context, ownerID string) ([]domain.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ImageRecord, 0)
	for _, rec := range s.records {
		if rec.OwnerID == ownerID {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryImageStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryImageStore) DeleteByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.records {
		if rec.OwnerID == ownerID {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryImageStore) Close() error {
	return nil
}

func sortNewestFirst(records []domain.ImageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UploadedAt.Equal(records[j].UploadedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].UploadedAt.After(records[j].UploadedAt)
	})
}
