package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sattu-dealer/Image-Tools/internal/config"
	"github.com/sattu-dealer/Image-Tools/internal/images"
	"github.com/sattu-dealer/Image-Tools/internal/storage"
	"github.com/sattu-dealer/Image-Tools/internal/store"
)

// OpenImageStore returns the record store selected by DATABASE_DRIVER.
func OpenImageStore(ctx context.Context, cfg config.DatabaseConfig) (store.ImageStore, error) {
	switch cfg.Driver {
	case "", config.DatabaseMemory:
		return store.NewMemoryImageStore(), nil
	case config.DatabasePostgres:
		return store.NewPostgresImageStore(ctx, cfg.DSN)
	case config.DatabaseBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
		return store.NewBoltImageStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// OpenBlobStore returns the blob store selected by STORAGE_BACKEND.
func OpenBlobStore(ctx context.Context, cfg config.StorageConfig) (images.BlobStore, error) {
	switch cfg.Backend {
	case "", config.StorageLocal:
		return storage.NewLocal(cfg.LocalDir)
	case config.StorageMinio:
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
