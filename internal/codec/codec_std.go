package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type stdImage struct {
	img image.Image
}

func (i *stdImage) Width() int  { return i.img.Bounds().Dx() }
func (i *stdImage) Height() int { return i.img.Bounds().Dy() }
func (i *stdImage) Close()      {}

// Pixels exposes the raster for inspection in tests and tools.
func (i *stdImage) Pixels() image.Image { return i.img }

// StdCodec is the pure Go backend. It decodes jpeg, png and webp but can only
// encode jpeg and png.
type StdCodec struct{}

func (StdCodec) Name() string { return "stdlib" }

func (StdCodec) Decode(data []byte) (Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has invalid dimensions", ErrDecode)
	}
	return &stdImage{img: src}, nil
}

func (StdCodec) Resize(img Image, width, height int) (Image, error) {
	src, err := asStd(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize requires positive dimensions, got %dx%d", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src.img, src.img.Bounds(), draw.Src, nil)
	return &stdImage{img: dst}, nil
}

func (StdCodec) AdjustBrightness(img Image, factor float64) (Image, error) {
	src, err := asStd(img)
	if err != nil {
		return nil, err
	}
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("brightness factor must be finite and >= 0, got %v", factor)
	}

	b := src.img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.img.At(x, y)).(color.NRGBA)
			dst.Set(x-b.Min.X, y-b.Min.Y, color.NRGBA{
				R: scaleChannel(c.R, factor),
				G: scaleChannel(c.G, factor),
				B: scaleChannel(c.B, factor),
				A: c.A,
			})
		}
	}
	return &stdImage{img: dst}, nil
}

func (StdCodec) Encode(img Image, format domain.Format, quality int) ([]byte, error) {
	src, err := asStd(img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(&buf, src.img, &jpeg.Options{Quality: normalizeQuality(quality)}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	case domain.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, src.img); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	case domain.FormatWebP:
		return nil, fmt.Errorf("%w: webp export requires the govips build tag", ErrEncode)
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}
	return buf.Bytes(), nil
}

func asStd(img Image) (*stdImage, error) {
	s, ok := img.(*stdImage)
	if !ok || s == nil || s.img == nil {
		return nil, errors.New("image was not produced by the stdlib codec")
	}
	return s, nil
}

func scaleChannel(v uint8, factor float64) uint8 {
	scaled := math.Round(float64(v) * factor)
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}
