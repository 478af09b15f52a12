package codec

import (
	"errors"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

var (
	ErrDecode = errors.New("decode image")
	ErrEncode = errors.New("encode image")
)

// DefaultQuality is used for lossy formats when no quality is requested.
const DefaultQuality = 80

// Image is a decoded pixel buffer owned by exactly one holder. Every Codec
// operation returns a new Image and leaves its input untouched; the holder
// releases buffers it no longer needs with Close.
type Image interface {
	Width() int
	Height() int
	Close()
}

// Codec decodes, transforms and encodes images. Implementations must be safe
// for concurrent use by independent requests.
type Codec interface {
	Decode(data []byte) (Image, error)
	// Resize stretches img to exactly width x height.
	Resize(img Image, width, height int) (Image, error)
	// AdjustBrightness scales luminance by factor; 1.0 is neutral.
	AdjustBrightness(img Image, factor float64) (Image, error)
	// Encode serialises img. quality (1-100) applies to jpeg and webp; 0 selects
	// DefaultQuality. Lossless formats accept and ignore it.
	Encode(img Image, format domain.Format, quality int) ([]byte, error)
	Name() string
}

// New returns the backend selected at build time.
func New() (Codec, error) {
	return newCodec()
}

func normalizeQuality(quality int) int {
	if quality <= 0 || quality > 100 {
		return DefaultQuality
	}
	return quality
}
