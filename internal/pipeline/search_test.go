package pipeline

import (
	"testing"

	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchFindsQualityThatFits(t *testing.T) {
	c := &fakeCodec{sizeFor: linearSize}

	result, err := Searcher{}.Search(c, &fakeImage{w: 1, h: 1}, domain.FormatJPEG, 4000)
	require.NoError(t, err)

	assert.True(t, result.WithinBudget)
	assert.Equal(t, 40, result.Quality)
	assert.Len(t, result.Data, 4000)
	assert.Equal(t, c.encodes, result.Probes)
	assert.LessOrEqual(t, c.encodes, DefaultSearchIterations)
}

func TestSearchReachesMaxQualityWhenEverythingFits(t *testing.T) {
	c := &fakeCodec{sizeFor: linearSize}

	result, err := Searcher{}.Search(c, &fakeImage{}, domain.FormatWebP, 1<<30)
	require.NoError(t, err)

	assert.True(t, result.WithinBudget)
	assert.Equal(t, MaxQuality, result.Quality)
	assert.Equal(t, 7, c.encodes)
}

func TestSearchFallsBackToMinimumQuality(t *testing.T) {
	c := &fakeCodec{sizeFor: func(q int) int { return 2000 + q }}

	result, err := Searcher{}.Search(c, &fakeImage{}, domain.FormatWebP, 1024)
	require.NoError(t, err)

	assert.False(t, result.WithinBudget)
	assert.Equal(t, MinQuality, result.Quality)
	assert.Len(t, result.Data, 2001)
	assert.LessOrEqual(t, c.encodes, DefaultSearchIterations, "fallback must reuse the quality 1 probe")
}

func TestSearchBoundedWorkAndSizeBound(t *testing.T) {
	for target := int64(1); target <= 12_000; target += 37 {
		c := &fakeCodec{sizeFor: linearSize}
		result, err := Searcher{}.Search(c, &fakeImage{}, domain.FormatJPEG, target)
		require.NoError(t, err)

		require.LessOrEqual(t, c.encodes, DefaultSearchIterations, "target=%d", target)
		require.NotEmpty(t, result.Data, "target=%d", target)
		if result.WithinBudget {
			require.LessOrEqual(t, int64(len(result.Data)), target, "target=%d", target)
		} else {
			require.Equal(t, MinQuality, result.Quality, "target=%d", target)
		}

		optimum := int(target / 100)
		if optimum > MaxQuality {
			optimum = MaxQuality
		}
		require.LessOrEqual(t, result.Quality, max(optimum, MinQuality), "target=%d", target)
	}
}

func TestSearchIterationsAreConfigurable(t *testing.T) {
	c := &fakeCodec{sizeFor: linearSize}
	result, err := Searcher{Iterations: 1}.Search(c, &fakeImage{}, domain.FormatJPEG, 6000)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Quality)
	assert.Equal(t, 1, c.encodes)

	// Three probes (50, 25, 12) cannot reach quality 1, so the fallback costs one more encode.
	c = &fakeCodec{sizeFor: linearSize}
	result, err = Searcher{Iterations: 3}.Search(c, &fakeImage{}, domain.FormatJPEG, 50)
	require.NoError(t, err)
	assert.False(t, result.WithinBudget)
	assert.Equal(t, MinQuality, result.Quality)
	assert.Equal(t, 4, c.encodes)
}

func TestSearchRejectsBadInput(t *testing.T) {
	c := &fakeCodec{sizeFor: linearSize}

	_, err := Searcher{}.Search(c, &fakeImage{}, domain.FormatJPEG, 0)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = Searcher{}.Search(c, &fakeImage{}, domain.FormatJPEG, -10)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = Searcher{}.Search(c, &fakeImage{}, domain.FormatPNG, 1000)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Zero(t, c.encodes)
}

func TestSearchPropagatesEncodeErrors(t *testing.T) {
	_, err := Searcher{}.Search(failingEncoder{}, &fakeImage{}, domain.FormatJPEG, 1000)
	require.ErrorIs(t, err, codec.ErrEncode)
}

type failingEncoder struct{}

func (failingEncoder) Encode(codec.Image, domain.Format, int) ([]byte, error) {
	return nil, codec.ErrEncode
}

func BenchmarkSearchStdJPEG(b *testing.B) {
	c := codec.StdCodec{}
	img, err := c.Decode(buildNoisyPNG(b, 640, 480))
	if err != nil {
		b.Fatalf("decode: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := (Searcher{}).Search(c, img, domain.FormatJPEG, 40*1024); err != nil {
			b.Fatalf("search: %v", err)
		}
	}
}
