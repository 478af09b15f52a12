package store

import (
	"context"
	"errors"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

var ErrNotFound = errors.New("image record not found")

// ImageStore persists image records keyed by record id.
type ImageStore interface {
	Create(ctx context.Context, rec domain.ImageRecord) error
	Get(ctx context.Context, id string) (domain.ImageRecord, bool, error)
	// Update replaces an existing record, typically a pending one with its
	// processed form.
	Update(ctx context.Context, rec domain.ImageRecord) error
	UpdateStatus(ctx context.Context, id string, status domain.Status, errMsg string) (domain.ImageRecord, error)
	// ListByOwner returns the owner's records, newest upload first.
	ListByOwner(ctx context.Context, ownerID string) ([]domain.ImageRecord, error)
	Delete(ctx context.Context, id string) error
	DeleteByOwner(ctx context.Context, ownerID string) (int, error)
	Close() error
}
