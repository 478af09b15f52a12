package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidRequest marks caller contract violations detected before any pixel work.
var ErrInvalidRequest = errors.New("invalid processing request")

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"

	DefaultFormat = FormatJPEG
)

// ParseFormat accepts the user-facing format names. An empty value selects jpeg.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return DefaultFormat, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, raw)
	}
}

// Lossy reports whether the encoder honours a quality level for this format.
func (f Format) Lossy() bool {
	return f == FormatJPEG || f == FormatWebP
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Options are the transformations requested for one image.
type Options struct {
	Format          Format   `json:"format"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	Brightness      *float64 `json:"brightness,omitempty"`
	Contrast        *float64 `json:"contrast,omitempty"`
	TargetSizeBytes *int64   `json:"target_size_bytes,omitempty"`
}

// WantsResize is true only when both dimensions are present and positive.
// A partial resize is skipped rather than rejected.
func (o Options) WantsResize() bool {
	return o.Width > 0 && o.Height > 0
}

// WantsSearch is true when a size budget applies to the output format.
func (o Options) WantsSearch() bool {
	return o.TargetSizeBytes != nil && o.Format.Lossy()
}

// Normalized validates the options and returns them with a canonical format.
func (o Options) Normalized() (Options, error) {
	format, err := ParseFormat(string(o.Format))
	if err != nil {
		return Options{}, err
	}
	o.Format = format
	if o.Brightness != nil {
		b := *o.Brightness
		if math.IsNaN(b) || math.IsInf(b, 0) || b < 0 {
			return Options{}, fmt.Errorf("%w: brightness must be a finite factor >= 0", ErrInvalidRequest)
		}
	}
	if o.Contrast != nil {
		c := *o.Contrast
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Options{}, fmt.Errorf("%w: contrast must be finite", ErrInvalidRequest)
		}
	}
	if o.TargetSizeBytes != nil && *o.TargetSizeBytes <= 0 {
		return Options{}, fmt.Errorf("%w: target size must be positive", ErrInvalidRequest)
	}
	return o, nil
}

// ProcessingRequest is the input of one orchestrator run. ImageBytes is
// consumed by the run and must not be reused by the caller. RequestID tags
// the output name; callers that persist a record pass its id.
type ProcessingRequest struct {
	ImageBytes   []byte
	OriginalName string
	OwnerID      string
	RequestID    string
	Options      Options
}

func (r ProcessingRequest) Validate() error {
	if len(r.ImageBytes) == 0 {
		return fmt.Errorf("%w: image bytes are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	}
	_, err := r.Options.Normalized()
	return err
}

// OperationsRecord describes what was executed to produce an output. Only
// operations that actually ran (or were recorded on request) are present.
type OperationsRecord struct {
	Resize      *ResizeOp      `json:"resize,omitempty"`
	Adjustment  *AdjustmentOp  `json:"adjustment,omitempty"`
	Format      Format         `json:"format"`
	Compression *CompressionOp `json:"compression,omitempty"`
}

type ResizeOp struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AdjustmentOp records brightness and contrast. Contrast has no pixel
// implementation yet, so ContrastApplied is always false when Contrast is set.
type AdjustmentOp struct {
	Brightness      *float64 `json:"brightness,omitempty"`
	Contrast        *float64 `json:"contrast,omitempty"`
	ContrastApplied bool     `json:"contrast_applied"`
}

type CompressionOp struct {
	TargetSizeKB    float64 `json:"target_size_kb"`
	TargetSizeBytes int64   `json:"target_size_bytes"`
	FinalQuality    int     `json:"final_quality"`
	WithinBudget    bool    `json:"within_budget"`
}

// Status tracks an image through asynchronous processing. Synchronous
// requests are stored as StatusProcessed directly.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	default:
		return false
	}
}

// Pending reports whether a worker may still pick the record up.
func (s Status) Pending() bool {
	return s == StatusQueued || s == StatusProcessing
}

// ImageRecord is the persisted description of an image request. FileName,
// StoragePath, Operations and SizeBytes are only set once Status is
// StatusProcessed; Error only when it is StatusFailed.
type ImageRecord struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"owner_id"`
	OriginalName string           `json:"original_name"`
	Status       Status           `json:"status"`
	Error        string           `json:"error,omitempty"`
	FileName     string           `json:"file_name,omitempty"`
	StoragePath  string           `json:"storage_path,omitempty"`
	Operations   OperationsRecord `json:"operations"`
	SizeBytes    int64            `json:"size_bytes"`
	UploadedAt   time.Time        `json:"uploaded_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
