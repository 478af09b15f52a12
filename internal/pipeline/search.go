package pipeline

import (
	"fmt"

	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

const (
	// DefaultSearchIterations bounds the bisection. Seven probes are enough to
	// reach quality 1 when nothing fits, so the fallback never costs an extra encode.
	DefaultSearchIterations = 7

	MinQuality = 1
	MaxQuality = 100
)

type encoder interface {
	Encode(img codec.Image, format domain.Format, quality int) ([]byte, error)
}

// SearchResult is the outcome of a size-constrained encode. WithinBudget is
// false when even MinQuality exceeded the target; Data then holds the
// MinQuality encoding so the caller still gets a usable image.
type SearchResult struct {
	Data         []byte
	Quality      int
	WithinBudget bool
	Probes       int
}

// Searcher finds a high quality whose encoding fits a byte budget using a
// fixed number of bisection steps. The answer is the best quality seen within
// that budget of steps, not necessarily the true optimum.
type Searcher struct {
	Iterations int
}

func (s Searcher) iterations() int {
	if s.Iterations <= 0 {
		return DefaultSearchIterations
	}
	return s.Iterations
}

// Search encodes img at successive qualities. Probes are memoized, so the
// number of encoder calls never exceeds the iteration count plus one, and the
// extra call only happens when fewer iterations than needed to reach
// MinQuality are configured.
func (s Searcher) Search(enc encoder, img codec.Image, format domain.Format, targetBytes int64) (SearchResult, error) {
	if targetBytes <= 0 {
		return SearchResult{}, fmt.Errorf("%w: target size must be positive, got %d", domain.ErrInvalidRequest, targetBytes)
	}
	if !format.Lossy() {
		return SearchResult{}, fmt.Errorf("%w: format %q has no quality setting", domain.ErrInvalidRequest, format)
	}

	probes := make(map[int][]byte, s.iterations())
	probe := func(quality int) ([]byte, error) {
		if data, ok := probes[quality]; ok {
			return data, nil
		}
		data, err := enc.Encode(img, format, quality)
		if err != nil {
			return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
		}
		probes[quality] = data
		return data, nil
	}

	low, high := MinQuality, MaxQuality
	var (
		best        []byte
		bestQuality int
	)
	for i := 0; i < s.iterations(); i++ {
		mid := (low + high) / 2
		if mid < MinQuality {
			mid = MinQuality
		}

		data, err := probe(mid)
		if err != nil {
			return SearchResult{}, err
		}

		if int64(len(data)) <= targetBytes {
			best = data
			bestQuality = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	if best != nil {
		return SearchResult{Data: best, Quality: bestQuality, WithinBudget: true, Probes: len(probes)}, nil
	}

	data, err := probe(MinQuality)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Data: data, Quality: MinQuality, WithinBudget: false, Probes: len(probes)}, nil
}
