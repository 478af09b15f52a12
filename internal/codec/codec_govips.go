//go:build govips && cgo

package codec

import (
	"errors"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

type vipsImage struct {
	ref *vips.ImageRef
}

func (i *vipsImage) Width() int  { return i.ref.Width() }
func (i *vipsImage) Height() int { return i.ref.Height() }

func (i *vipsImage) Close() {
	if i.ref != nil {
		i.ref.Close()
		i.ref = nil
	}
}

// VipsCodec delegates to libvips and supports webp export.
type VipsCodec struct{}

func (VipsCodec) Name() string { return "govips" }

func (VipsCodec) Decode(data []byte) (Image, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if ref.Width() <= 0 || ref.Height() <= 0 {
		ref.Close()
		return nil, fmt.Errorf("%w: image has invalid dimensions", ErrDecode)
	}
	return &vipsImage{ref: ref}, nil
}

func (VipsCodec) Resize(img Image, width, height int) (Image, error) {
	src, err := asVips(img)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize requires positive dimensions, got %dx%d", width, height)
	}

	out, err := src.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}

	hscale := float64(width) / float64(out.Width())
	vscale := float64(height) / float64(out.Height())
	if err := out.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		out.Close()
		return nil, fmt.Errorf("resize image: %w", err)
	}
	return &vipsImage{ref: out}, nil
}

func (VipsCodec) AdjustBrightness(img Image, factor float64) (Image, error) {
	src, err := asVips(img)
	if err != nil {
		return nil, err
	}

	out, err := src.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	if err := out.Modulate(factor, 1, 0); err != nil {
		out.Close()
		return nil, fmt.Errorf("modulate brightness: %w", err)
	}
	return &vipsImage{ref: out}, nil
}

func (VipsCodec) Encode(img Image, format domain.Format, quality int) ([]byte, error) {
	src, err := asVips(img)
	if err != nil {
		return nil, err
	}

	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = normalizeQuality(quality)
		data, _, err := src.ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := src.ref.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
		return data, nil
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = normalizeQuality(quality)
		data, _, err := src.ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrEncode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}
}

func asVips(img Image) (*vipsImage, error) {
	v, ok := img.(*vipsImage)
	if !ok || v == nil || v.ref == nil {
		return nil, errors.New("image was not produced by the govips codec")
	}
	return v, nil
}
