package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/id"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	StageValidate  = "validate"
	StageDecode    = "decode"
	StageTransform = "transform"
	StageEncode    = "encode"
	StageCompress  = "compress"
)

// ProcessingError wraps any failure of a processing run. No output is
// produced when it is returned.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process image: %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Output is the terminal artifact of a run. Search is nil unless a size
// budget was applied.
type Output struct {
	Data       []byte
	FileName   string
	Operations domain.OperationsRecord
	Width      int
	Height     int
	Search     *SearchResult
}

type Processor struct {
	codec    codec.Codec
	searcher Searcher
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	observe  SearchObserver
	quality  int
}

// SearchObserver is told about every finished quality search.
type SearchObserver func(format domain.Format, result SearchResult)

type Option func(*Processor)

func WithSearchIterations(n int) Option {
	return func(p *Processor) {
		p.searcher.Iterations = n
	}
}

// WithDefaultQuality sets the encode quality used when no size budget
// applies. Values outside 1-100 keep the codec default.
func WithDefaultQuality(q int) Option {
	return func(p *Processor) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func WithSearchObserver(fn SearchObserver) Option {
	return func(p *Processor) {
		p.observe = fn
	}
}

func NewProcessor(c codec.Codec, opts ...Option) *Processor {
	p := &Processor{
		codec:    c,
		searcher: Searcher{Iterations: DefaultSearchIterations},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("imagetools/pipeline"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefaultProcessor uses the codec backend selected at build time.
func NewDefaultProcessor(opts ...Option) (*Processor, error) {
	c, err := codec.New()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return NewProcessor(c, opts...), nil
}

func (p *Processor) CodecName() string {
	return p.codec.Name()
}

// Process decodes the request image, applies the planned transforms, then
// either encodes once at the default quality or searches for the highest
// quality that fits the requested size.
func (p *Processor) Process(ctx context.Context, req domain.ProcessingRequest) (Output, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	out, err := p.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		return Output{}, err
	}

	span.SetAttributes(
		attribute.String("image.format", string(out.Operations.Format)),
		attribute.Int("image.bytes", len(out.Data)),
		attribute.Int("image.width", out.Width),
		attribute.Int("image.height", out.Height),
	)
	span.SetStatus(codes.Ok, "processed")
	return out, nil
}

func (p *Processor) process(ctx context.Context, req domain.ProcessingRequest) (Output, error) {
	if err := req.Validate(); err != nil {
		return Output{}, &ProcessingError{Stage: StageValidate, Err: err}
	}
	opts, err := req.Options.Normalized()
	if err != nil {
		return Output{}, &ProcessingError{Stage: StageValidate, Err: err}
	}

	src, err := p.codec.Decode(req.ImageBytes)
	if err != nil {
		return Output{}, &ProcessingError{Stage: StageDecode, Err: err}
	}

	img, ops, err := Run(p.codec, src, Plan(opts))
	if err != nil {
		return Output{}, &ProcessingError{Stage: StageTransform, Err: err}
	}
	defer img.Close()
	ops.Format = opts.Format

	out := Output{
		Width:  img.Width(),
		Height: img.Height(),
	}

	if opts.WantsSearch() {
		target := *opts.TargetSizeBytes
		result, err := p.search(ctx, img, opts.Format, target)
		if err != nil {
			return Output{}, &ProcessingError{Stage: StageCompress, Err: err}
		}
		ops.Compression = &domain.CompressionOp{
			TargetSizeKB:    float64(target) / 1024,
			TargetSizeBytes: target,
			FinalQuality:    result.Quality,
			WithinBudget:    result.WithinBudget,
		}
		out.Data = result.Data
		out.Search = &result
	} else {
		data, err := p.codec.Encode(img, opts.Format, p.quality)
		if err != nil {
			return Output{}, &ProcessingError{Stage: StageEncode, Err: err}
		}
		out.Data = data
	}

	out.Operations = ops
	out.FileName = id.OutputName(req.OriginalName, req.OwnerID, req.RequestID, p.now(), opts.Format)

	p.logger.Debug("image processed",
		zap.String("owner_id", req.OwnerID),
		zap.String("file_name", out.FileName),
		zap.String("format", string(opts.Format)),
		zap.Int("bytes", len(out.Data)),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
	)
	return out, nil
}

func (p *Processor) search(ctx context.Context, img codec.Image, format domain.Format, target int64) (SearchResult, error) {
	_, span := p.tracer.Start(ctx, "pipeline.quality_search")
	defer span.End()

	result, err := p.searcher.Search(p.codec, img, format, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return SearchResult{}, err
	}

	if p.observe != nil {
		p.observe(format, result)
	}
	span.SetAttributes(
		attribute.Int64("search.target_bytes", target),
		attribute.Int("search.quality", result.Quality),
		attribute.Int("search.probes", result.Probes),
		attribute.Bool("search.within_budget", result.WithinBudget),
	)
	if !result.WithinBudget {
		p.logger.Info("size budget not reachable, returning minimum quality",
			zap.Int64("target_bytes", target),
			zap.Int("bytes", len(result.Data)),
		)
	}
	return result, nil
}
