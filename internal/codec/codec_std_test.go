package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdCodecDecodeRejectsGarbage(t *testing.T) {
	_, err := StdCodec{}.Decode([]byte("definitely not an image"))
	require.ErrorIs(t, err, ErrDecode)
}

func TestStdCodecResizeFillsExactDimensions(t *testing.T) {
	c := StdCodec{}
	img, err := c.Decode(buildTestPNG(t, 240, 120, color.RGBA{R: 200, G: 40, B: 90, A: 255}))
	require.NoError(t, err)

	resized, err := c.Resize(img, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, 100, resized.Width())
	assert.Equal(t, 50, resized.Height())

	// aspect ratio is not preserved
	stretched, err := c.Resize(img, 30, 90)
	require.NoError(t, err)
	assert.Equal(t, 30, stretched.Width())
	assert.Equal(t, 90, stretched.Height())

	assert.Equal(t, 240, img.Width(), "input must be left untouched")
}

func TestStdCodecAdjustBrightness(t *testing.T) {
	c := StdCodec{}
	img, err := c.Decode(buildTestPNG(t, 8, 8, color.RGBA{R: 100, G: 50, B: 20, A: 255}))
	require.NoError(t, err)

	brighter, err := c.AdjustBrightness(img, 1.5)
	require.NoError(t, err)
	px := pixelAt(t, brighter, 3, 3)
	assert.Equal(t, color.NRGBA{R: 150, G: 75, B: 30, A: 255}, px)

	clipped, err := c.AdjustBrightness(img, 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), pixelAt(t, clipped, 0, 0).R)

	neutral, err := c.AdjustBrightness(img, 1)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 100, G: 50, B: 20, A: 255}, pixelAt(t, neutral, 0, 0))

	_, err = c.AdjustBrightness(img, -1)
	require.Error(t, err)
}

func TestStdCodecEncodeFormats(t *testing.T) {
	c := StdCodec{}
	img, err := c.Decode(buildTestPNG(t, 64, 64, color.RGBA{R: 10, G: 120, B: 200, A: 255}))
	require.NoError(t, err)

	jpegBytes, err := c.Encode(img, domain.FormatJPEG, 0)
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(jpegBytes))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	low, err := c.Encode(img, domain.FormatPNG, 1)
	require.NoError(t, err)
	high, err := c.Encode(img, domain.FormatPNG, 100)
	require.NoError(t, err)
	assert.Equal(t, low, high, "png must ignore quality")

	_, err = c.Encode(img, domain.FormatWebP, 80)
	require.ErrorIs(t, err, ErrEncode)

	_, err = c.Encode(img, domain.Format("tiff"), 80)
	require.ErrorIs(t, err, ErrEncode)
}

func TestStdCodecJPEGSizeGrowsWithQuality(t *testing.T) {
	c := StdCodec{}
	img, err := c.Decode(buildNoisyPNG(t, 160, 160))
	require.NoError(t, err)

	prev := 0
	for _, q := range []int{5, 25, 50, 75, 95} {
		data, err := c.Encode(img, domain.FormatJPEG, q)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(data), prev, "quality %d", q)
		prev = len(data)
	}
}

func TestStdCodecRejectsForeignImages(t *testing.T) {
	_, err := StdCodec{}.Encode(fakeImage{}, domain.FormatJPEG, 80)
	require.Error(t, err)
}

type fakeImage struct{}

func (fakeImage) Width() int  { return 1 }
func (fakeImage) Height() int { return 1 }
func (fakeImage) Close()      {}

func pixelAt(t *testing.T, img Image, x, y int) color.NRGBA {
	t.Helper()
	s, ok := img.(*stdImage)
	require.True(t, ok)
	return color.NRGBAModel.Convert(s.Pixels().At(x, y)).(color.NRGBA)
}

func buildTestPNG(t *testing.T, w, h int, fill color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func buildNoisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed = seed*1664525 + 1013904223
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8(seed >> 24),
				B: uint8((y * 255) / h),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
