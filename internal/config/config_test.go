package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_MAX_UPLOAD_BYTES", "STORAGE_BACKEND", "DATABASE_DRIVER", "PROCESSING_SEARCH_ITERATIONS", "PROCESSING_DEFAULT_QUALITY", "RATE_LIMIT_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, int64(20<<20), cfg.API.MaxUploadBytes)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, DatabaseMemory, cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Processing.SearchIterations)
	assert.Equal(t, 80, cfg.Processing.DefaultQuality)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_MAX_UPLOAD_BYTES", "1024")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("DATABASE_DRIVER", "bolt")
	t.Setenv("PROCESSING_SEARCH_ITERATIONS", "9")
	t.Setenv("PROCESSING_DEFAULT_QUALITY", "90")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("WEBHOOK_TIMEOUT", "not-a-duration")

	cfg := Load()
	assert.Equal(t, int64(1024), cfg.API.MaxUploadBytes)
	assert.Equal(t, StorageMinio, cfg.Storage.Backend)
	assert.Equal(t, DatabaseBolt, cfg.Database.Driver)
	assert.Equal(t, 9, cfg.Processing.SearchIterations)
	assert.Equal(t, 90, cfg.Processing.DefaultQuality)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
}
