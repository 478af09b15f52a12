package pipeline

import (
	"fmt"

	"github.com/sattu-dealer/Image-Tools/internal/codec"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

// Step is one pixel transformation. Apply returns a new image and never
// mutates its input; it may return the input itself when there is nothing to do.
type Step interface {
	Name() string
	Apply(c codec.Codec, img codec.Image) (codec.Image, error)
	Record(ops *domain.OperationsRecord)
}

// Plan returns the requested steps in their fixed execution order. Resize runs
// before brightness so the adjustment is computed on the final pixel grid.
func Plan(opts domain.Options) []Step {
	steps := make([]Step, 0, 2)
	if opts.WantsResize() {
		steps = append(steps, resizeStep{width: opts.Width, height: opts.Height})
	}
	if opts.Brightness != nil || opts.Contrast != nil {
		steps = append(steps, adjustStep{brightness: opts.Brightness, contrast: opts.Contrast})
	}
	return steps
}

// Run applies steps to src in order. Ownership of src moves into Run: every
// superseded image is closed, and the returned image belongs to the caller.
// On error nothing is returned and every image, src included, is closed.
func Run(c codec.Codec, src codec.Image, steps []Step) (codec.Image, domain.OperationsRecord, error) {
	var ops domain.OperationsRecord
	current := src
	for _, step := range steps {
		next, err := step.Apply(c, current)
		if err != nil {
			current.Close()
			return nil, domain.OperationsRecord{}, fmt.Errorf("%s: %w", step.Name(), err)
		}
		if next != current {
			current.Close()
			current = next
		}
		step.Record(&ops)
	}
	return current, ops, nil
}

type resizeStep struct {
	width  int
	height int
}

func (s resizeStep) Name() string { return "resize" }

func (s resizeStep) Apply(c codec.Codec, img codec.Image) (codec.Image, error) {
	return c.Resize(img, s.width, s.height)
}

func (s resizeStep) Record(ops *domain.OperationsRecord) {
	ops.Resize = &domain.ResizeOp{Width: s.width, Height: s.height}
}

// adjustStep applies brightness. Contrast is only recorded: there is no
// contrast implementation and none is invented here.
type adjustStep struct {
	brightness *float64
	contrast   *float64
}

func (s adjustStep) Name() string { return "adjustment" }

func (s adjustStep) Apply(c codec.Codec, img codec.Image) (codec.Image, error) {
	if s.brightness == nil {
		return img, nil
	}
	return c.AdjustBrightness(img, *s.brightness)
}

func (s adjustStep) Record(ops *domain.OperationsRecord) {
	ops.Adjustment = &domain.AdjustmentOp{
		Brightness:      copyFloat(s.brightness),
		Contrast:        copyFloat(s.contrast),
		ContrastApplied: false,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
