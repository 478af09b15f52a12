package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, capacity, window, "test:ratelimit")
	require.NoError(t, err)

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

func TestCost(t *testing.T) {
	budget := int64(10 << 10)
	tests := []struct {
		name       string
		opts       domain.Options
		iterations int
		want       int64
	}{
		{"plain encode", domain.Options{Format: domain.FormatJPEG}, 7, 1},
		{"lossless ignores budget", domain.Options{Format: domain.FormatPNG, TargetSizeBytes: &budget}, 7, 1},
		{"search at default iterations", domain.Options{Format: domain.FormatJPEG, TargetSizeBytes: &budget}, 0, 7},
		{"search with more iterations", domain.Options{Format: domain.FormatWebP, TargetSizeBytes: &budget}, 9, 9},
		{"short search pays fallback encode", domain.Options{Format: domain.FormatJPEG, TargetSizeBytes: &budget}, 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cost(tt.opts, tt.iterations))
		})
	}
}

func TestTokenBucketRefusesWhenEmpty(t *testing.T) {
	bucket, _ := newBucket(t, 2, time.Minute)
	ctx := context.Background()

	first, err := bucket.Allow(ctx, "user-1:/v1/images", 1)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, int64(1), first.Remaining)

	second, err := bucket.Allow(ctx, "user-1:/v1/images", 1)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, int64(0), second.Remaining)

	third, err := bucket.Allow(ctx, "user-1:/v1/images", 1)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.InDelta(t, float64(30*time.Second), float64(third.RetryAfter), float64(time.Millisecond))
}

func TestTokenBucketChargesSearchCost(t *testing.T) {
	bucket, _ := newBucket(t, 10, 10*time.Second)
	ctx := context.Background()

	search, err := bucket.Allow(ctx, "user-1", 7)
	require.NoError(t, err)
	assert.True(t, search.Allowed)
	assert.Equal(t, int64(7), search.Cost)
	assert.Equal(t, int64(3), search.Remaining)

	// Three plain encodes still fit; a second search does not.
	again, err := bucket.Allow(ctx, "user-1", 7)
	require.NoError(t, err)
	assert.False(t, again.Allowed)
	assert.Equal(t, int64(3), again.Remaining)
	assert.InDelta(t, float64(4*time.Second), float64(again.RetryAfter), float64(time.Millisecond))

	for i := 0; i < 3; i++ {
		d, err := bucket.Allow(ctx, "user-1", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "plain encode %d", i)
	}
	d, err := bucket.Allow(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestTokenBucketClampsCostToCapacity(t *testing.T) {
	bucket, now := newBucket(t, 4, 4*time.Second)
	ctx := context.Background()

	d, err := bucket.Allow(ctx, "user-1", 7)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(4), d.Cost)
	assert.Equal(t, int64(0), d.Remaining)

	d, err = bucket.Allow(ctx, "user-1", 7)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(4*time.Second), float64(d.RetryAfter), float64(time.Millisecond))

	*now = now.Add(5 * time.Second)
	d, err = bucket.Allow(ctx, "user-1", 7)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucketRefills(t *testing.T) {
	bucket, now := newBucket(t, 2, time.Minute)
	ctx := context.Background()

	d, err := bucket.Allow(ctx, "user-1", 0)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Cost)
	d, err = bucket.Allow(ctx, "user-1", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	*now = now.Add(31 * time.Second)
	d, err = bucket.Allow(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucketSubjectsAreIndependent(t *testing.T) {
	bucket, _ := newBucket(t, 1, time.Minute)
	ctx := context.Background()

	d, err := bucket.Allow(ctx, "user-1", 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = bucket.Allow(ctx, "user-2", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = bucket.Allow(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestNewRedisTokenBucketValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, 1, time.Minute, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 0, time.Minute, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 1, 0, "")
	assert.Error(t, err)
}
