package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeImage struct {
	w, h   int
	closed bool
}

func (i *fakeImage) Width() int  { return i.w }
func (i *fakeImage) Height() int { return i.h }
func (i *fakeImage) Close()      { i.closed = true }

// fakeCodec records every call and encodes to sizeFor(quality) bytes.
type fakeCodec struct {
	sizeFor     func(quality int) int
	calls       []string
	encodes     int
	decodeErr   error
	images      []*fakeImage
	lastEncoded *fakeImage
	qualities   []int
}

func (c *fakeCodec) Name() string { return "fake" }

func (c *fakeCodec) newImage(w, h int) *fakeImage {
	img := &fakeImage{w: w, h: h}
	c.images = append(c.images, img)
	return img
}

func (c *fakeCodec) Decode(data []byte) (codec.Image, error) {
	if c.decodeErr != nil {
		return nil, c.decodeErr
	}
	c.calls = append(c.calls, "decode")
	return c.newImage(400, 300), nil
}

func (c *fakeCodec) Resize(img codec.Image, width, height int) (codec.Image, error) {
	c.calls = append(c.calls, fmt.Sprintf("resize %dx%d->%dx%d", img.Width(), img.Height(), width, height))
	return c.newImage(width, height), nil
}

func (c *fakeCodec) AdjustBrightness(img codec.Image, factor float64) (codec.Image, error) {
	c.calls = append(c.calls, fmt.Sprintf("brightness %.2f on %dx%d", factor, img.Width(), img.Height()))
	return c.newImage(img.Width(), img.Height()), nil
}

func (c *fakeCodec) Encode(img codec.Image, format domain.Format, quality int) ([]byte, error) {
	c.encodes++
	c.qualities = append(c.qualities, quality)
	c.lastEncoded = img.(*fakeImage)
	if format == "bogus" {
		return nil, fmt.Errorf("%w: unsupported output format", codec.ErrEncode)
	}
	size := 1000
	if c.sizeFor != nil {
		size = c.sizeFor(quality)
	}
	return make([]byte, size), nil
}

// linearSize models an encoder whose output grows 100 bytes per quality step.
func linearSize(quality int) int {
	return quality * 100
}

func buildNoisyPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(11)
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
